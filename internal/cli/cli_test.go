package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	served := false
	root := NewRootCommand("test", func(ctx context.Context, cfg *config.Config) error {
		served = true
		return nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "missing.env")))
	err := root.Execute()
	if len(args) > 0 && args[0] != "serve" {
		assert.False(t, served)
	}
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("WORK_DIR", dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("PRICING_FILE", "")
	t.Setenv("PUBLIC_REVIEW_URL", "")
}

func TestServeIsDefault(t *testing.T) {
	isolate(t)
	var got *config.Config
	root := NewRootCommand("test", func(ctx context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	})
	root.SetArgs([]string{"--env", filepath.Join(t.TempDir(), "none")})
	require.NoError(t, root.Execute())
	require.NotNil(t, got)
	assert.Equal(t, "cli.db", filepath.Base(got.DBPath))
}

func TestEnvFileIsLoaded(t *testing.T) {
	isolate(t)
	t.Setenv("RATE_CURRENCY", "")
	require.NoError(t, os.Unsetenv("RATE_CURRENCY"))
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, writeFile(envPath, "RATE_CURRENCY=eur\n"))

	var got *config.Config
	root := NewRootCommand("test", func(ctx context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	})
	root.SetArgs([]string{"serve", "--env", envPath})
	require.NoError(t, root.Execute())
	assert.Equal(t, "eur", got.RateCurrency)
}

func TestEstimateJSON(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "estimate", "-t", "Hello [LINK]", "-n", "2", "--rate", "4", "--json")
	require.NoError(t, err)

	var res struct {
		Message  string `json:"message"`
		Estimate struct {
			Segments       int     `json:"segments"`
			Encoding       string  `json:"encoding"`
			RenderedLength int     `json:"rendered_length"`
			CostBase       float64 `json:"cost_base"`
			CostDisplay    float64 `json:"cost_display"`
		} `json:"estimate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Hello next-reviews-booster.com/review/vqyrdqrhf4", res.Message)
	assert.Equal(t, 48, res.Estimate.RenderedLength)
	assert.Equal(t, "standard", res.Estimate.Encoding)
	assert.Equal(t, 1, res.Estimate.Segments)
	assert.InDelta(t, 0.0862, res.Estimate.CostBase, 1e-9)
	assert.InDelta(t, 0.3448, res.Estimate.CostDisplay, 1e-9)
}

func TestEstimateCompanyAndReviewBase(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "estimate", "-t", "[NAZWA_FIRMY] [LINK]", "--rate", "4", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"message": "[NAZWA_FIRMY] next-reviews-booster.com/review/vqyrdqrhf4"`)

	t.Setenv("PUBLIC_REVIEW_URL", "https://opinie.salon-anna.example.pl/review/")
	out, err = run(t, "", "estimate", "-t", "[NAZWA_FIRMY] [LINK]", "-c", "Salon Anna", "--rate", "4", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"message": "Salon Anna https://opinie.salon-anna.example.pl/review/vqyrdqrhf4"`)
}

func TestEstimateDefaultTemplate(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "estimate", "--rate", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Encoding:  extended (67 per segment)")
	assert.Contains(t, out, "Segments:  3")
	assert.Contains(t, out, "Length:    191 / 200 characters")
}

func TestEstimateTooLong(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "estimate", "-t", strings.Repeat("a", 201), "--rate", "4")
	assert.Error(t, err)
}

func nbpServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exchangerates/rates/a/usd/", r.URL.Path)
		_, _ = w.Write([]byte(`{"table":"A","currency":"dolar amerykański","code":"USD",
			"rates":[{"no":"101/A/NBP/2024","effectiveDate":"2024-05-27","mid":3.9312}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRate(t *testing.T) {
	isolate(t)
	t.Setenv("NBP_BASE_URL", nbpServer(t).URL)
	t.Setenv("RATE_CURRENCY", "USD")
	out, err := run(t, "", "rate")
	require.NoError(t, err)
	assert.Equal(t, "1 USD = 3.9312 PLN (NBP table A, 2024-05-27)\n", out)
}

func TestEstimateLiveRate(t *testing.T) {
	isolate(t)
	t.Setenv("NBP_BASE_URL", nbpServer(t).URL)
	t.Setenv("RATE_CURRENCY", "usd")
	out, err := run(t, "", "estimate", "-t", "Hi", "--live")
	require.NoError(t, err)
	assert.Contains(t, out, "1 USD = 3.9312 PLN")
}

func TestUserAddAndList(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "user", "add", "Anna", "--permission", "Starter", "--password", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, "Created anna")
	assert.Contains(t, out, "Starter")

	out, err = run(t, "secret123\n", "user", "add", "piotr")
	require.NoError(t, err)
	assert.Contains(t, out, "Demo")

	_, err = run(t, "", "user", "add", "anna", "--password", "secret123")
	assert.Error(t, err, "duplicate")

	out, err = run(t, "", "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "anna")
	assert.Contains(t, out, "piotr")

	out, err = run(t, "", "user", "set-permission", "piotr", "Professional")
	require.NoError(t, err)
	assert.Equal(t, "piotr is now Professional\n", out)
}

func TestUserAddGenerate(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "user", "add", "ewa", "--generate")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`Password: [0-9a-f]{16}\n`), out)
}

func TestUserAddRejects(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "user", "add", "ewa", "--permission", "gold", "--password", "secret123")
	assert.Error(t, err)
	_, err = run(t, "", "user", "add", "ewa", "--password", "short")
	assert.Error(t, err)
}

func TestServicePrintsUnit(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "service", "--os", "linux")
	require.NoError(t, err)
	assert.Contains(t, out, "[Service]")
	assert.Contains(t, out, " serve\n")
	assert.Contains(t, out, "Environment=PORT=")

	_, err = run(t, "", "service", "--os", "windows")
	assert.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
