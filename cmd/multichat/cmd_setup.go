package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/multichat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("multichat setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Backends.Azure.BaseURL = prompt(scanner, "Azure OpenAI endpoint", cfg.Backends.Azure.BaseURL)
		cfg.Backends.Azure.APIKey = prompt(scanner, "Azure OpenAI API key", cfg.Backends.Azure.APIKey)
		cfg.Backends.Anthropic.APIKey = prompt(scanner, "Anthropic API key (optional)", cfg.Backends.Anthropic.APIKey)
		cfg.Backends.Gemini.APIKey = prompt(scanner, "Gemini API key (optional)", cfg.Backends.Gemini.APIKey)

		models := prompt(scanner, "Default models (comma separated)", strings.Join(cfg.DefaultModels, ","))
		cfg.DefaultModels = cfg.DefaultModels[:0]
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.DefaultModels = append(cfg.DefaultModels, m)
			}
		}

		cfg.WorkflowsDir = prompt(scanner, "Workflow templates directory (optional)", cfg.WorkflowsDir)
		cfg.Redis.Addr = prompt(scanner, "Redis address for caching (optional)", cfg.Redis.Addr)
		cfg.Search.SerpAPIKey = prompt(scanner, "SerpAPI key (optional)", cfg.Search.SerpAPIKey)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
