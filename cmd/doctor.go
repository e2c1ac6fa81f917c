package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/providers"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	setupLogging()

	fmt.Println("bolt doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply, run: bolt onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Local inference
	fmt.Println()
	fmt.Println("  Ollama:")
	fmt.Printf("    %-10s %s\n", "URL:", cfg.OllamaURL)
	local := providers.NewOllama(cfg.OllamaURL, logDiscard())
	if err := local.Ping(ctx); err != nil {
		fmt.Printf("    %-10s UNREACHABLE (%s)\n", "Status:", err)
	} else {
		fmt.Printf("    %-10s OK\n", "Status:")
		if loaded, err := local.LoadedModels(ctx); err == nil {
			if len(loaded) == 0 {
				fmt.Printf("    %-10s none\n", "Loaded:")
			} else {
				fmt.Printf("    %-10s %s\n", "Loaded:", strings.Join(loaded, ", "))
			}
		}
	}
	fmt.Println("    Roster:")
	for _, key := range []config.ModelKey{
		config.ModelRouter, config.ModelCompanion, config.ModelFastCode,
		config.ModelWorkerLight, config.ModelWorkerHeavy, config.ModelBeast,
	} {
		fmt.Printf("      %-13s %s\n", string(key)+":", cfg.Model(key))
	}

	// Database
	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-10s %s\n", "Path:", cfg.DBPath())
	if st, err := store.Open(cfg.DBPath()); err != nil {
		fmt.Printf("    %-10s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		fmt.Printf("    %-10s OK (migrations applied)\n", "Status:")
		st.Close()
	}

	// Custom tools
	fmt.Println()
	fmt.Println("  Plugins:")
	fmt.Printf("    %-10s %s\n", "Dir:", cfg.PluginDir())
	entries, err := os.ReadDir(cfg.PluginDir())
	if err != nil {
		fmt.Printf("    %-10s none (directory missing)\n", "Found:")
	} else {
		count := 0
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json5" && !strings.HasPrefix(e.Name(), "_") {
				count++
			}
		}
		fmt.Printf("    %-10s %d descriptor(s)\n", "Found:", count)
	}

	// Cloud brain
	fmt.Println()
	fmt.Println("  Cloud:")
	cloud := providers.NewCloud(providers.CloudSettings{
		APIKey: cfg.Cloud.APIKey,
		Model:  cfg.Cloud.Model,
		URL:    cfg.Cloud.URL,
	}, logDiscard())
	if !cloud.Configured() {
		fmt.Printf("    %-10s not configured (set BOLT_CLOUD_KEY to enable)\n", "Status:")
		return
	}
	fmt.Printf("    %-10s %s\n", "Brain:", cloud.DisplayName())
	if cloud.Available(ctx) {
		fmt.Printf("    %-10s reachable\n", "Status:")
	} else {
		fmt.Printf("    %-10s UNREACHABLE\n", "Status:")
	}
}
