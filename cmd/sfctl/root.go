package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThewitchASarz/sucrityflash/internal/client"
)

type globalOptions struct {
	apiURL  string
	token   string
	timeout time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "sfctl",
		Short:         "Review and control governed security runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("SF_API_URL", "http://localhost:8080"), "governance API base URL (SF_API_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SF_TOKEN"), "bearer token (SF_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(
		newPendingCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newKillCmd(opts),
		newTimelineCmd(opts),
		newStatsCmd(opts),
		newScopeCmd(opts),
	)
	return root
}

func (o *globalOptions) client() (*client.Client, error) {
	if strings.TrimSpace(o.token) == "" {
		return nil, errors.New("a token is required (use --token or set SF_TOKEN)")
	}
	return client.New(o.apiURL, o.token, &http.Client{Timeout: o.timeout})
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps API failures onto distinct exit codes: 3 for 4xx, 4 for 5xx.
func exitCode(err error) int {
	status := client.StatusOf(err)
	switch {
	case status >= 500:
		return 4
	case status >= 400:
		return 3
	default:
		return 1
	}
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("--reason is required")
	}
	return nil
}
