package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/middleware"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var userFlag, emailFlag string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			userID := uuid.New()
			if userFlag != "" {
				if userID, err = uuid.Parse(userFlag); err != nil {
					return fmt.Errorf("invalid --user %q", userFlag)
				}
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to sign tokens with ENVIRONMENT=production")
			}
			token, err := middleware.GenerateToken(cfg.JWTSecret, userID, emailFlag, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id: %s\ntoken:   %s\n", userID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id to embed (random when empty)")
	cmd.Flags().StringVar(&emailFlag, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
