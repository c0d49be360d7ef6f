package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-join-server/pkg/crypto"
)

var configSummary bool

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the join server configuration file",
	Long: `Print the effective configuration as YAML. Without --config this is the default
configuration, with a freshly generated jwt.secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configSummary {
			cfg.PrintConfigSummary()
			return nil
		}

		if cfg.JWT.Secret == "" {
			if cfg.JWT.Secret, err = crypto.GenerateRandomString(32); err != nil {
				return fmt.Errorf("generate jwt secret: %w", err)
			}
		}

		b, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <password>",
	Short: "Print the bcrypt hash to use as api.admin_password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := crypto.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configSummary, "summary", false, "print a short summary instead of YAML")
}
