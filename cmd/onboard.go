package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/omnidesk-io/omnidesk/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg := config.Default()

	var (
		portStr     = strconv.Itoa(cfg.Gateway.Port)
		token       string
		waEnabled   bool
		bridgeURL   = "ws://localhost:3001"
		metaEnabled bool
		verifyToken string
		pageToken   string
		aiKey       string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway port").
				Value(&portStr).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("not a number")
					}
					return nil
				}),
			huh.NewInput().
				Title("Gateway token").
				Description("Bearer credential agents use to connect").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable WhatsApp?").
				Value(&waEnabled),
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Value(&bridgeURL),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Instagram/Messenger webhooks?").
				Value(&metaEnabled),
			huh.NewInput().
				Title("Meta verify token").
				Value(&verifyToken),
			huh.NewInput().
				Title("Meta page access token").
				EchoMode(huh.EchoModePassword).
				Value(&pageToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI-compatible API key (optional, enables ai_reply)").
				EchoMode(huh.EchoModePassword).
				Value(&aiKey),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("wizard aborted: %w", err)
	}

	cfg.Gateway.Port, _ = strconv.Atoi(portStr)
	cfg.Gateway.Token = token
	cfg.Channels.WhatsApp.Enabled = waEnabled
	cfg.Channels.WhatsApp.BridgeURL = bridgeURL
	cfg.Channels.Meta.Enabled = metaEnabled
	cfg.Channels.Meta.VerifyToken = verifyToken
	cfg.Channels.Meta.PageToken = pageToken
	if aiKey != "" {
		cfg.Automation.Enabled = true
		cfg.Automation.AI.APIKey = aiKey
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("\nConfiguration written to %s\n", cfgPath)
	fmt.Println("Start the server with: omnidesk serve")
	return nil
}
