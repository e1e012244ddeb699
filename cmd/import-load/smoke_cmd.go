package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSmokeCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "smoke --base-url <url> --actor <uuid>",
		Short: "Check that the import API answers for the given actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.BaseURL) == "" {
				return errors.New("--base-url is required")
			}
			if _, err := uuid.Parse(strings.TrimSpace(opts.ActorID)); err != nil {
				return fmt.Errorf("--actor must be a UUID: %w", err)
			}
			return smokeCheck(cmd.Context(), newHTTPClient(opts.Timeout, 1), opts)
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "http://localhost:3200", "server base URL")
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "acting user UUID sent in the user header")
	cmd.Flags().StringVar(&opts.UserHeader, "user-header", "X-User-ID", "header carrying the acting user id")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}
