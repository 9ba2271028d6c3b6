package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omnidesk-io/omnidesk/internal/channels/whatsapp"
	"github.com/omnidesk-io/omnidesk/internal/config"
)

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the WhatsApp session and delete stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			path := cfg.Channels.WhatsApp.CredentialsPath
			if path == "" {
				return fmt.Errorf("no whatsapp credentials path configured")
			}
			if err := whatsapp.RemoveCredentials(path); err != nil {
				return fmt.Errorf("remove credentials: %w", err)
			}

			fmt.Println("WhatsApp credentials removed. The next start will require a new QR pairing.")
			return nil
		},
	}
}
