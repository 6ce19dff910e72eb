package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

func newPendingCmd(opts *globalOptions) *cobra.Command {
	var (
		runID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			actions, err := c.PendingApprovals(cmd.Context(), runID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"actions": actions})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show actions of this run")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of actions")
	return cmd
}

func newApproveCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "approve ACTION_ID",
		Short: "Approve a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Approve(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "optional approval note")
	return cmd
}

func newRejectCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject ACTION_ID",
		Short: "Reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReason(reason); err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the action is rejected")
	return cmd
}

func newKillCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "kill RUN_ID",
		Short: "Abort a run immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReason(reason); err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			run, err := c.KillRun(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the run is killed")
	return cmd
}

func newTimelineCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "timeline RUN_ID",
		Short: "Print the audit timeline of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.Timeline(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"entries": entries})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats RUN_ID",
		Short: "Print action and evidence counters of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newScopeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Create and lock engagement scopes",
	}
	cmd.AddCommand(newScopeCreateCmd(opts), newScopeLockCmd(opts))
	return cmd
}

func newScopeCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		projectID string
		file      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft scope from a YAML definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			def, err := readScopeFile(file)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			scope, err := c.CreateScope(cmd.Context(), projectID, def)
			if err != nil {
				return err
			}
			return printJSON(cmd, scope)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "scope definition YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newScopeLockCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock SCOPE_ID",
		Short: "Lock a scope so runs can use it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			scope, err := c.LockScope(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, scope)
		},
	}
}

func readScopeFile(path string) (domain.ScopeDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.ScopeDefinition{}, fmt.Errorf("read scope file: %w", err)
	}
	var def domain.ScopeDefinition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return domain.ScopeDefinition{}, fmt.Errorf("parse scope file: %w", err)
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return domain.ScopeDefinition{}, fmt.Errorf("invalid scope: %w", err)
	}
	return def, nil
}
