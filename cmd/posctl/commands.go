package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kasirinaja/ledger/internal/auth"
	"kasirinaja/ledger/internal/cache"
	"kasirinaja/ledger/internal/config"
	"kasirinaja/ledger/internal/logging"
	pgstore "kasirinaja/ledger/internal/store/postgres"
	"kasirinaja/ledger/internal/xid"
)

var errNoDatabase = errors.New("DATABASE_URL must be set")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "posctl",
		Short:         "Administrative tasks for the POS ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cashier := &cobra.Command{
		Use:   "cashier",
		Short: "Manage cashier accounts",
	}
	cashier.AddCommand(newCashierCreateCmd(), newCashierStatusCmd("deactivate", false), newCashierStatusCmd("activate", true))

	product := &cobra.Command{
		Use:   "product",
		Short: "Catalog helpers",
	}
	product.AddCommand(newProductCodeCmd())

	root.AddCommand(newMigrateCmd(), cashier, product)
	return root
}

// posctl migrate
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadDatabaseConfig()
			if err != nil {
				return err
			}
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// posctl cashier create
func newCashierCreateCmd() *cobra.Command {
	var in auth.NewUser
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a cashier or admin account with a PIN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthService(cmd, func(ctx context.Context, svc *auth.Service) error {
				user, err := svc.CreateUser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (id %d)\n", user.Role, user.Username, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Role, "role", "CASHIER", "ADMIN or CASHIER")
	cmd.Flags().StringVar(&in.PIN, "pin", "", "numeric PIN, 4 to 12 digits")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

// posctl cashier activate|deactivate
func newCashierStatusCmd(use string, active bool) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   use,
		Short: "Enable or disable an account; disabling ends its sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthService(cmd, func(ctx context.Context, svc *auth.Service) error {
				user, err := svc.SetActive(ctx, username, active)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", user.Username, user.Active)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func withAuthService(cmd *cobra.Command, fn func(context.Context, *auth.Service) error) error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	repo, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel)
	return fn(ctx, auth.NewService(repo, cache.NoopSessionCache{}, cfg.AuthSecret, cfg.SessionTTL(), logger))
}

// posctl product code
func newProductCodeCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Print random 8-digit product codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 || count > 1000 {
				return fmt.Errorf("--count must be between 1 and 1000")
			}
			for i := 0; i < count; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), xid.ProductCode())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "how many codes to print")
	return cmd
}

func loadDatabaseConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.DatabaseURL == "" {
		return config.Config{}, errNoDatabase
	}
	return cfg, nil
}
