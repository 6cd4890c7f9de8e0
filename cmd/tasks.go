package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/apexion-ai/taskloop/internal/cost"
	"github.com/apexion-ai/taskloop/internal/storage"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage stored tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTasks()
		},
	}
	cmd.AddCommand(newTasksDeleteCmd())
	cmd.AddCommand(newTasksEventsCmd())
	return cmd
}

func listTasks() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	items, err := a.index.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No stored tasks.")
		return nil
	}
	for _, it := range items {
		fmt.Printf("%-36s  %-14s  %8s in  %8s out  %8s  %s\n",
			it.ID,
			humanize.Time(time.UnixMilli(it.TS)),
			humanize.Comma(int64(it.TokensIn)),
			humanize.Comma(int64(it.TokensOut)),
			cost.FormatDollars(it.TotalCost),
			firstLine(it.Task, 60))
	}
	return nil
}

func newTasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a stored task and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			id := args[0]
			if err := a.store.Delete(id); err != nil {
				return err
			}
			if err := a.index.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			fmt.Printf("Deleted task %s\n", id)
			return nil
		},
	}
}

func newTasksEventsCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show the event journal of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.ReadJournal(args[0], last)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, storage.FormatJournal(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 50, "show only the last n events (0 for all)")
	return cmd
}

func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
