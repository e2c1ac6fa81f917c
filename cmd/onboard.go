package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/providers"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup (writes config.json5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A broken file shouldn't block re-onboarding.
		cfg = config.Default()
	}

	overwrite := true
	if _, err := os.Stat(cfgPath); err == nil {
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Ollama URL").
				Description("Base URL of the local inference server").
				Value(&cfg.OllamaURL),
			huh.NewInput().
				Title("Data directory").
				Description("Holds bolt.db and the custom_tools/ plugin directory").
				Value(&cfg.DataDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Cloud API key").
				Description("Optional — leave empty to stay fully local. Provider is auto-detected from the key prefix.").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Cloud.APIKey),
			huh.NewInput().
				Title("Cloud model override").
				Description("Optional — empty uses the provider's default").
				Value(&cfg.Cloud.Model),
			huh.NewInput().
				Title("Cloud URL override").
				Description("Only needed for unrecognized key prefixes").
				Value(&cfg.Cloud.URL),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.OllamaURL = strings.TrimRight(strings.TrimSpace(cfg.OllamaURL), "/")

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("\nWrote %s\n", cfgPath)
	if cfg.Cloud.APIKey != "" {
		cloud := providers.NewCloud(providers.CloudSettings{
			APIKey: cfg.Cloud.APIKey,
			Model:  cfg.Cloud.Model,
			URL:    cfg.Cloud.URL,
		}, logDiscard())
		if cloud.Configured() {
			fmt.Printf("Cloud brain: %s\n", cloud.DisplayName())
		} else {
			fmt.Println("Cloud key not recognized — set a URL override or check the key prefix.")
		}
	}
	fmt.Println("Run `bolt doctor` to verify, then `bolt` to start chatting.")
	return nil
}
