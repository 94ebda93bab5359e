package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/multichat/internal/workflow"
)

var (
	askModels []string
	askTools  bool
)

func init() {
	askCmd.Flags().StringSliceVarP(&askModels, "model", "m", nil, "model to ask (repeatable, default from config)")
	askCmd.Flags().BoolVar(&askTools, "tools", false, "offer every discovered MCP tool")
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send one prompt to every selected model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := a.sessions.Create(ctx, userID, "")
		if err != nil {
			return err
		}
		models := askModels
		if len(models) == 0 {
			models = cfg.DefaultModels
		}
		l.SetModels(models)
		if askTools {
			l.SetTools(a.catalog.All())
		}

		reply, err := a.engine.Submit(ctx, l, workflow.Input{Text: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		printMessage(os.Stdout, reply)
		fmt.Fprintf(os.Stderr, "session %s\n", l.ID())
		return a.sessions.Save(ctx, l)
	},
}
