package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

// NewEstimateCommand prices a template without touching the database.
func NewEstimateCommand() *cobra.Command {
	var (
		template    string
		company     string
		link        string
		count       int
		rate        float64
		live        bool
		pricingFile string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Show segments and cost of a message template",
		Example: `  # Price the default template
  reviewbooster estimate

  # 250 messages of a custom template at today's NBP rate
  reviewbooster estimate -t "Oceń [NAZWA_FIRMY]: [LINK]" -c "Salon Anna" -n 250 --live`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if pricingFile == "" {
				pricingFile = cfg.PricingFile
			}
			pricing, err := config.LoadPricingFor(pricingFile, cfg.PublicReviewURL)
			if err != nil {
				return err
			}
			if link == "" {
				link = pricing.SampleLink
			}
			if live && rate <= 0 {
				r, err := rates.NewNBPFetcher(cfg.RateCurrency, rates.WithBaseURL(cfg.NBPBaseURL)).Fetch(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch rate: %w", err)
				}
				rate = r.Mid
			}

			body := smscost.Render(template, smscost.RenderContext{LinkValue: link, CompanyName: company})
			est := pricing.Estimator().QuoteRendered(body, count, rate)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"message": body, "estimate": est})
			}
			printEstimate(cmd.OutOrStdout(), pricing, body, est)
			if err := smscost.CheckLength(body, pricing.MaxMessageLength); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", settings.DefaultTemplate, "Message template with [LINK] and [NAZWA_FIRMY]")
	cmd.Flags().StringVarP(&company, "company", "c", "", "Company name for [NAZWA_FIRMY] (default: keep the token)")
	cmd.Flags().StringVar(&link, "link", "", "Review link for [LINK] (default: the sample link)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of messages")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Exchange rate override")
	cmd.Flags().BoolVar(&live, "live", false, "Fetch the current exchange rate from NBP")
	cmd.Flags().StringVar(&pricingFile, "pricing", "", "Pricing YAML file (default: $PRICING_FILE)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printEstimate(w io.Writer, p config.Pricing, body string, est smscost.CostEstimate) {
	fmt.Fprintln(w, "Message:")
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Length:    %d / %d characters\n", est.RenderedLength, p.MaxMessageLength)
	fmt.Fprintf(w, "Encoding:  %s (%d per segment)\n", est.EncodingClass, est.CharsPerSegment)
	fmt.Fprintf(w, "Segments:  %d\n", est.Segments)
	fmt.Fprintf(w, "Messages:  %d\n", est.MessageCount)
	fmt.Fprintf(w, "Rate:      1 %s = %.4f %s\n", p.CurrencyBase, est.ExchangeRate, p.CurrencyDisplay)
	fmt.Fprintf(w, "Per SMS:   %.4f %s / %.4f %s\n", est.CostPerMessageBase, p.CurrencyBase, est.CostPerMessageDisplay, p.CurrencyDisplay)
	fmt.Fprintf(w, "Total:     %.4f %s / %.2f %s\n", est.CostBase, p.CurrencyBase, est.CostDisplay, p.CurrencyDisplay)
}

// NewRateCommand prints the current NBP mid rate.
func NewRateCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Fetch the current exchange rate from NBP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			r, err := rates.NewNBPFetcher(cfg.RateCurrency, rates.WithBaseURL(cfg.NBPBaseURL)).Fetch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %.4f PLN (NBP table A, %s)\n",
				strings.ToUpper(r.Currency), r.Mid, r.EffectiveDate)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")
	return cmd
}
