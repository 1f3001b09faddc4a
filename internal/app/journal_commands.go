package app

import (
	"context"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution"
)

func (s *runtimeState) newJournalCommand() *cobra.Command {
	root := &cobra.Command{Use: "journal", Short: "Execution audit trail"}

	var filter execution.ListFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent executions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.Limit <= 0 {
				return clierr.New(clierr.CodeUsage, "--limit must be positive")
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			store, err := s.ensureJournal()
			if err != nil {
				return err
			}
			entries, err := store.List(ctx, filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list journal", err)
			}
			if entries == nil {
				entries = []execution.JournalEntry{}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entries, nil, cacheMetaBypass())
		},
	}
	list.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum entries to return")
	list.Flags().BoolVar(&filter.ExecutedOnly, "executed", false, "Only entries that reached the network")
	list.Flags().BoolVar(&filter.FailedOnly, "failed", false, "Only failed entries")

	get := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			store, err := s.ensureJournal()
			if err != nil {
				return err
			}
			entry, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entry, nil, cacheMetaBypass())
		},
	}

	root.AddCommand(list)
	root.AddCommand(get)
	return root
}
