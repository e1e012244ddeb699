package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/presentation/mappers"
	"github.com/iota-uz/field-registry/modules/importing/services"
)

type stepOutput struct {
	Command    string             `json:"command"`
	DurationMS int64              `json:"duration_ms"`
	Package    mappers.PackageDTO `json:"package"`
}

type detectOutput struct {
	stepOutput
	ConflictsCreated int `json:"conflicts_created"`
	AutoResolved     int `json:"auto_resolved"`
	Pending          int `json:"pending"`
}

type packageStep func(s *session, actor services.Actor, id uuid.UUID) (importpackage.ImportPackage, error)

// newPackageStepCmd builds a command that runs one lifecycle stage on a package id.
func newPackageStepCmd(opts *rootOptions, use, short string, step packageStep) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <package-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(opts.actor)
			if err != nil {
				return err
			}
			id, err := parsePackageID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			pkg, err := step(s, actor, id)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), stepOutput{
				Command:    use,
				DurationMS: time.Since(start).Milliseconds(),
				Package:    mappers.PackageToDTO(pkg),
			})
		},
	}
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Register and stage a package file (JSON or CBOR)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(opts.actor)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("read package: %w", err))
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			pkg, err := s.packages.Upload(s.ctx, actor, raw)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), stepOutput{
				Command:    "upload",
				DurationMS: time.Since(start).Milliseconds(),
				Package:    mappers.PackageToDTO(pkg),
			})
		},
	}
}

func newStageCmd(opts *rootOptions) *cobra.Command {
	return newPackageStepCmd(opts, "stage", "Re-stage a package from its raw copy",
		func(s *session, actor services.Actor, id uuid.UUID) (importpackage.ImportPackage, error) {
			return s.packages.Stage(s.ctx, actor, id)
		})
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return newPackageStepCmd(opts, "validate", "Validate staged records",
		func(s *session, actor services.Actor, id uuid.UUID) (importpackage.ImportPackage, error) {
			return s.packages.Validate(s.ctx, actor, id)
		})
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <package-id>",
		Short: "Run duplicate detection and open conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(opts.actor)
			if err != nil {
				return err
			}
			id, err := parsePackageID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			res, err := s.packages.DetectDuplicates(s.ctx, actor, id)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), detectOutput{
				stepOutput: stepOutput{
					Command:    "detect",
					DurationMS: time.Since(start).Milliseconds(),
					Package:    mappers.PackageToDTO(res.Package),
				},
				ConflictsCreated: res.ConflictsCreated,
				AutoResolved:     res.AutoResolved,
				Pending:          res.Pending,
			})
		},
	}
}

func newApproveCmd(opts *rootOptions) *cobra.Command {
	var (
		allValid    bool
		records     []string
		acknowledge bool
	)
	cmd := newPackageStepCmd(opts, "approve", "Approve staged records for commit",
		func(s *session, actor services.Actor, id uuid.UUID) (importpackage.ImportPackage, error) {
			params := services.ApproveParams{AllValid: allValid, AcknowledgeInvalid: acknowledge}
			for _, raw := range records {
				rid, err := uuid.Parse(raw)
				if err != nil {
					return importpackage.ImportPackage{}, withCode(exitUsage, fmt.Errorf("invalid --record %q: %w", raw, err))
				}
				params.RecordIDs = append(params.RecordIDs, rid)
			}
			return s.packages.ApproveForCommit(s.ctx, actor, id, params)
		})
	cmd.Flags().BoolVar(&allValid, "all-valid", false, "Approve every Valid and Warning record")
	cmd.Flags().StringSliceVar(&records, "record", nil, "Staging record UUID to approve (repeatable)")
	cmd.Flags().BoolVar(&acknowledge, "acknowledge-invalid", false, "Acknowledge Invalid records under the block policy")
	return cmd
}

func newCommitCmd(opts *rootOptions) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "commit <package-id>",
		Short: "Commit approved records into the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(opts.actor)
			if err != nil {
				return err
			}
			id, err := parsePackageID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.packages.Commit(s.ctx, actor, id, services.CommitParams{CleanupStaging: cleanup})
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup-staging", false, "Purge staging payloads after a successful commit")
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	var (
		reason  string
		cleanup bool
	)
	cmd := newPackageStepCmd(opts, "cancel", "Cancel a package that has not been committed",
		func(s *session, actor services.Actor, id uuid.UUID) (importpackage.ImportPackage, error) {
			return s.packages.Cancel(s.ctx, actor, id, reason, cleanup)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	cmd.Flags().BoolVar(&cleanup, "cleanup-staging", true, "Purge staging records and pending conflicts")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <package-id>",
		Short: "Show a package and its staging summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePackageID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.packages.GetStagingSummary(s.ctx, id)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), mappers.StagingSummaryToDTO(summary))
		},
	}
}
