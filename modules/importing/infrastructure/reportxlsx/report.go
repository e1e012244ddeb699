package reportxlsx

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/services"
)

const (
	SheetSummary  = "Summary"
	SheetMappings = "Mappings"
	SheetFailures = "Failures"
	SheetSkipped  = "Skipped"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type sheetWriter struct {
	f      *excelize.File
	header int
}

func (w *sheetWriter) row(sheet string, n int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(sheet, cell, &values)
}

func (w *sheetWriter) table(sheet string, header []interface{}, rows [][]interface{}) error {
	if sheet != SheetSummary {
		if _, err := w.f.NewSheet(sheet); err != nil {
			return err
		}
	}
	if err := w.row(sheet, 1, header...); err != nil {
		return err
	}
	if err := w.f.SetRowStyle(sheet, 1, 1, w.header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := w.row(sheet, i+2, r...); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return w.f.SetColWidth(sheet, "A", last, 22)
}

// Write renders report as a workbook with one sheet per section.
func Write(out io.Writer, report *services.CommitReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	w := &sheetWriter{f: f, header: header}

	if err := w.table(SheetSummary, []interface{}{"Field", "Value"}, summaryRows(report)); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	if err := w.entityTable(report); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}

	mappings := make([][]interface{}, 0, len(report.Mappings))
	for _, m := range report.Mappings {
		mappings = append(mappings, []interface{}{
			string(m.EntityType), m.LocalID, m.RecordID.String(), m.EntityID.String(), string(m.Disposition),
		})
	}
	if err := w.table(SheetMappings, []interface{}{"Entity type", "Local id", "Record id", "Entity id", "Disposition"}, mappings); err != nil {
		return fmt.Errorf("mappings sheet: %w", err)
	}
	if err := w.table(SheetFailures, outcomeHeader(), outcomeRows(report.Failures)); err != nil {
		return fmt.Errorf("failures sheet: %w", err)
	}
	if err := w.table(SheetSkipped, outcomeHeader(), outcomeRows(report.Skipped)); err != nil {
		return fmt.Errorf("skipped sheet: %w", err)
	}
	f.SetActiveSheet(0)
	_, err = f.WriteTo(out)
	return err
}

func summaryRows(report *services.CommitReport) [][]interface{} {
	committedAt := ""
	if report.CommittedAt != nil {
		committedAt = report.CommittedAt.UTC().Format(time.RFC3339)
	}
	return [][]interface{}{
		{"Package id", report.PackageID.String()},
		{"External id", report.ExternalID},
		{"Status", string(report.Status)},
		{"Status reason", report.StatusReason},
		{"Failure stage", report.FailureStage},
		{"Committed at", committedAt},
		{"Archive", report.Archive},
		{"Committed", report.Totals.Committed},
		{"Skipped", report.Totals.Skipped},
		{"Failed", report.Totals.Failed},
	}
}

// entityTable appends the per entity type counts below the summary fields.
func (w *sheetWriter) entityTable(report *services.CommitReport) error {
	types := make([]stagingrecord.EntityType, 0, len(report.ByEntityType))
	for t := range report.ByEntityType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Rank() < types[j].Rank() })

	start := len(summaryRows(report)) + 3
	if err := w.row(SheetSummary, start, "Entity type", "Committed", "Skipped", "Failed"); err != nil {
		return err
	}
	if err := w.f.SetRowStyle(SheetSummary, start, start, w.header); err != nil {
		return err
	}
	for i, t := range types {
		c := report.ByEntityType[t]
		if err := w.row(SheetSummary, start+i+1, string(t), c.Committed, c.Skipped, c.Failed); err != nil {
			return err
		}
	}
	return nil
}

func outcomeHeader() []interface{} {
	return []interface{}{"Entity type", "Local id", "Record id", "Reason"}
}

func outcomeRows(outcomes []services.RecordOutcome) [][]interface{} {
	rows := make([][]interface{}, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, []interface{}{string(o.EntityType), o.LocalID, o.RecordID.String(), o.Reason})
	}
	return rows
}
