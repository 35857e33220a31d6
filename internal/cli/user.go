package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/wizard"
)

// NewUserCommand manages accounts directly in the database.
func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserAddCommand(), newUserListCommand(), newUserPermissionCommand())
	return cmd
}

func openDB() (*db.DB, error) {
	cfg := config.Load()
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func newUserAddCommand() *cobra.Command {
	var (
		permission string
		email      string
		password   string
		generate   bool
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Example: `  reviewbooster user add salon-anna --permission Starter --generate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := auth.LookupPermission(permission)
			if err != nil {
				return err
			}
			switch {
			case generate:
				if password, err = wizard.RandomPassword(8); err != nil {
					return err
				}
			case password == "":
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			u, err := auth.CreateUser(cmd.Context(), database, strings.ToLower(args[0]), email, password, perm)
			if err != nil {
				return err
			}
			database.WriteLog(nil, "info", fmt.Sprintf("User %s created from the command line", u.Username))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s (id %d, %s)\n", u.Username, u.ID, u.Permission)
			if generate {
				fmt.Fprintf(out, "Password: %s\n", password)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&permission, "permission", "p", auth.Demo.String(), "Demo, Starter, Professional or Admin")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate and print a random password")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	out := cmd.ErrOrStderr()
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password given")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			return listUsers(cmd.Context(), cmd, database)
		},
	}
}

func listUsers(ctx context.Context, cmd *cobra.Command, database *db.DB) error {
	users, err := auth.ListUsers(ctx, database)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tPERMISSION\tEMAIL\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Permission, u.Email,
			u.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func newUserPermissionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-permission <id|username> <permission>",
		Short: "Change an account's tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := auth.LookupPermission(args[1])
			if err != nil {
				return err
			}
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx := cmd.Context()
			var u *db.User
			if id, convErr := strconv.Atoi(args[0]); convErr == nil {
				u, err = auth.GetUser(ctx, database, id)
			} else {
				u, err = auth.GetUserByUsername(ctx, database, args[0])
			}
			if err != nil {
				return err
			}
			if err := auth.SetPermission(ctx, database, u.ID, perm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Username, perm)
			return nil
		},
	}
}
