package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/multichat/internal/state"
	"github.com/user/multichat/internal/types"
)

var (
	sessionPartition string
	eventsLimit      int
)

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionPartition, "partition", "", "storage partition (default: --user)")
	rootCmd.AddCommand(sessionCmd)
	sessionEventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "number of updates to show")
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionEventsCmd, sessionDeleteCmd)
}

func partitionKey() string {
	if sessionPartition != "" {
		return sessionPartition
	}
	return userID
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewSessionStore(cfg.DataDir)

		list, err := store.List(context.Background(), partitionKey())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tWORKFLOW\tUPDATED")
		for _, s := range list {
			wf := "-"
			if s.WorkflowID != "" && s.CurrentWorkflowStep != nil {
				wf = fmt.Sprintf("%s@%d", s.WorkflowID, *s.CurrentWorkflowStep+1)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				s.ID,
				s.Title,
				len(s.Messages),
				wf,
				time.UnixMilli(s.Timestamp).Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewSessionStore(cfg.DataDir)

		s, err := store.Get(context.Background(), types.SessionID(args[0]), partitionKey())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n\n", s.Title, s.ID)
		for _, m := range s.Messages {
			printMessage(os.Stdout, m)
		}
		return nil
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Print the latest logged updates of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		events := state.NewEventStore(cfg.DataDir)

		list, err := events.Tail(context.Background(), types.SessionID(args[0]), eventsLimit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No updates logged.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tAT\tTYPE\tSOURCE\tSIZE")
		for _, ev := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", ev.Seq, ev.At.Format("15:04:05"), ev.Type, ev.Source, len(ev.Payload))
		}
		return w.Flush()
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewSessionStore(cfg.DataDir)

		if err := store.Delete(context.Background(), types.SessionID(args[0]), partitionKey()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
		return nil
	},
}
