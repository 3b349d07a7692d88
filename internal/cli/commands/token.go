package commands

import (
	"fmt"

	"github.com/reportcast/internal/auth"
	"github.com/reportcast/internal/config"
	"github.com/spf13/cobra"
)

// NewTokenCommand mints an API token from the daemon's configured secret.
func NewTokenCommand() *cobra.Command {
	var (
		configPath string
		operator   string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			r := auth.Role(role)
			if r != auth.RoleAdmin && r != auth.RoleViewer {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.GenerateToken([]byte(cfg.Auth.JWTSecret), operator, r, cfg.Auth.TokenTTL)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&operator, "operator", "admin", "Operator name embedded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "Token role (admin/viewer)")
	return cmd
}
