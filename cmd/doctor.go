package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/fingerprint"
	"github.com/fieldnote-ai/warden/internal/vault"
	"github.com/fieldnote-ai/warden/pkg/protocol"
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
	fmt.Println("warden doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
	} else {
		fmt.Printf("    %-12s embedded (sqlite)\n", "Mode:")
	}

	fmt.Println()
	fmt.Println("  Vault:")
	if cfg.Vault.Password == "" {
		fmt.Println("    (no vault password configured — vault-backed secrets disabled)")
	} else {
		dir := cfg.Vault.Dir
		if dir == "" {
			dir = config.ExpandHome("~/.warden")
		}
		v := vault.New(dir)
		if err := v.Unlock(cfg.Vault.Password); err != nil {
			fmt.Printf("    %-12s UNLOCK FAILED (%s)\n", "Status:", err)
		} else {
			keys, _ := v.List()
			fmt.Printf("    %-12s unlocked, %d secret(s)\n", "Status:", len(keys))
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProvider("Mistral", cfg.Providers.Mistral.APIKey)
	checkProvider("XAI", cfg.Providers.XAI.APIKey)
	checkProvider("MiniMax", cfg.Providers.MiniMax.APIKey)
	checkProvider("Cohere", cfg.Providers.Cohere.APIKey)
	checkProvider("Perplexity", cfg.Providers.Perplexity.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	fmt.Printf("    %-12s %s\n", "cli:", "enabled (always on)")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
		res, err := fingerprint.Compute(ws, fingerprint.StableFields{
			Workspace:       cfg.Agents.Defaults.Workspace,
			DefaultProvider: cfg.Agents.Defaults.Provider,
			DefaultModel:    cfg.Agents.Defaults.Model,
			GatewayHost:     cfg.Gateway.Host,
		}, nil)
		if err != nil {
			fmt.Printf("  Fingerprint: CHECK FAILED (%s)\n", err)
		} else {
			fmt.Printf("  Fingerprint: %s (%s)\n", res.Hex[:16], res.Status)
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey != "" {
		maskedKey := apiKey
		if len(apiKey) > 8 {
			maskedKey = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		}
		fmt.Printf("    %-12s %s\n", name+":", maskedKey)
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
