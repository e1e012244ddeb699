package reportxlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/services"
)

func TestWrite(t *testing.T) {
	committedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	report := &services.CommitReport{
		PackageID:   uuid.New(),
		ExternalID:  "PKG-2026-0042",
		Status:      importpackage.StatusPartiallyCompleted,
		CommittedAt: &committedAt,
		Totals:      services.EntityCounts{Committed: 2, Skipped: 1, Failed: 1},
		ByEntityType: map[stagingrecord.EntityType]services.EntityCounts{
			stagingrecord.EntityClaim:  {Failed: 1},
			stagingrecord.EntityPerson: {Committed: 2, Skipped: 1},
		},
		Mappings: []services.EntityMapping{
			{RecordID: uuid.New(), LocalID: "p-1", EntityType: stagingrecord.EntityPerson, EntityID: uuid.New()},
			{RecordID: uuid.New(), LocalID: "p-2", EntityType: stagingrecord.EntityPerson, EntityID: uuid.New()},
		},
		Failures: []services.RecordOutcome{
			{RecordID: uuid.New(), LocalID: "c-1", EntityType: stagingrecord.EntityClaim, Reason: "reference code taken"},
		},
		Skipped: []services.RecordOutcome{
			{RecordID: uuid.New(), LocalID: "p-3", EntityType: stagingrecord.EntityPerson, Reason: "not approved"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{SheetSummary, SheetMappings, SheetFailures, SheetSkipped}, f.GetSheetList())

	status, err := f.GetCellValue(SheetSummary, "B4")
	require.NoError(t, err)
	require.Equal(t, "partially_completed", status)

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Equal(t, []string{"Entity type", "Committed", "Skipped", "Failed"}, summary[12])
	require.Equal(t, []string{"person", "2", "1", "0"}, summary[13])
	require.Equal(t, []string{"claim", "0", "0", "1"}, summary[14])

	mappings, err := f.GetRows(SheetMappings)
	require.NoError(t, err)
	require.Len(t, mappings, 3)
	require.Equal(t, "p-1", mappings[1][1])

	failures, err := f.GetRows(SheetFailures)
	require.NoError(t, err)
	require.Equal(t, "reference code taken", failures[1][3])
}
