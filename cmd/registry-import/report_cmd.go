package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/reportxlsx"
)

func newReportCmd() *cobra.Command {
	var xlsxPath string
	cmd := &cobra.Command{
		Use:   "report <package-id>",
		Short: "Print the commit report, optionally as an xlsx workbook",
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

			report, err := s.packages.GetCommitReport(s.ctx, id)
			if err != nil {
				return err
			}
			if xlsxPath == "" {
				return writeJSONLine(cmd.OutOrStdout(), report)
			}
			f, err := os.Create(xlsxPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", xlsxPath, err)
			}
			if err := reportxlsx.Write(f, report); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the report to this xlsx file instead of stdout")
	return cmd
}
