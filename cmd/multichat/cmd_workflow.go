package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/multichat/internal/workflow"
)

var (
	runModels []string
	runInputs []string
)

func init() {
	workflowRunCmd.Flags().StringSliceVarP(&runModels, "model", "m", nil, "models for prompt steps without their own model")
	workflowRunCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "answer for a step waiting on a query, URL or confirmation (repeatable)")
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowListCmd, workflowRunCmd)
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "List and run workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		wfs, err := a.workflows.List(ctx, userID)
		if err != nil {
			return err
		}
		if len(wfs) == 0 {
			fmt.Println("No workflows found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTEPS\tSYSTEM")
		for _, wf := range wfs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", wf.ID, wf.Name, len(wf.Steps), wf.IsSystem)
		}
		return w.Flush()
	},
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a workflow in a new session",
	Args:  cobra.ExactArgs(1),
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
		models := runModels
		if len(models) == 0 {
			models = cfg.DefaultModels
		}
		l.SetModels(models)

		if err := a.engine.Play(ctx, l, args[0]); err != nil {
			return err
		}
		for _, in := range runInputs {
			if _, idx := l.Step(); idx == nil {
				break
			}
			if _, err := a.engine.Submit(ctx, l, workflow.Input{Text: in}); err != nil {
				return err
			}
		}

		for _, m := range l.Messages() {
			printMessage(os.Stdout, m)
		}
		if _, idx := l.Step(); idx != nil {
			fmt.Fprintf(os.Stdout, "Paused at step %d: %s\n", *idx+1, l.Guided())
		}
		fmt.Fprintf(os.Stderr, "session %s\n", l.ID())
		return a.sessions.Save(ctx, l)
	},
}
