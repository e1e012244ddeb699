package services

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
)

type EntityCounts struct {
	Committed int `json:"committed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (c *EntityCounts) add(status stagingrecord.CommitStatus) {
	switch status {
	case stagingrecord.CommitCommitted:
		c.Committed++
	case stagingrecord.CommitSkipped:
		c.Skipped++
	case stagingrecord.CommitFailed:
		c.Failed++
	}
}

// EntityMapping is the staging → production id trail of one record.
type EntityMapping struct {
	RecordID    uuid.UUID                 `json:"record_id"`
	LocalID     string                    `json:"local_id"`
	EntityType  stagingrecord.EntityType  `json:"entity_type"`
	EntityID    uuid.UUID                 `json:"entity_id"`
	Disposition stagingrecord.Disposition `json:"disposition,omitempty"`
}

type RecordOutcome struct {
	RecordID   uuid.UUID                `json:"record_id"`
	LocalID    string                   `json:"local_id"`
	EntityType stagingrecord.EntityType `json:"entity_type"`
	Reason     string                   `json:"reason"`
}

// CommitReport is derived from the package and its records on every read.
type CommitReport struct {
	PackageID    uuid.UUID                                 `json:"package_id"`
	ExternalID   string                                    `json:"external_id"`
	Status       importpackage.Status                      `json:"status"`
	StatusReason string                                    `json:"status_reason,omitempty"`
	FailureStage string                                    `json:"failure_stage,omitempty"`
	CommittedAt  *time.Time                                `json:"committed_at,omitempty"`
	Archive      string                                    `json:"archive_location,omitempty"`
	Totals       EntityCounts                              `json:"totals"`
	ByEntityType map[stagingrecord.EntityType]EntityCounts `json:"by_entity_type"`
	Mappings     []EntityMapping                           `json:"mappings"`
	Failures     []RecordOutcome                           `json:"failures"`
	Skipped      []RecordOutcome                           `json:"skipped"`
}

// sortForCommit orders records parents first, then by position in the package.
func sortForCommit(records []*stagingrecord.StagingRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i].EntityType.Rank(), records[j].EntityType.Rank()
		if ri != rj {
			return ri < rj
		}
		return records[i].Seq < records[j].Seq
	})
}

func BuildCommitReport(pkg importpackage.ImportPackage, records []*stagingrecord.StagingRecord) *CommitReport {
	sorted := make([]*stagingrecord.StagingRecord, len(records))
	copy(sorted, records)
	sortForCommit(sorted)

	report := &CommitReport{
		PackageID:    pkg.ID(),
		ExternalID:   pkg.ExternalID(),
		Status:       pkg.Status(),
		StatusReason: pkg.StatusReason(),
		FailureStage: pkg.FailureStage(),
		CommittedAt:  pkg.CommittedAt(),
		Archive:      pkg.ArchiveLocation(),
		ByEntityType: make(map[stagingrecord.EntityType]EntityCounts),
		Mappings:     []EntityMapping{},
		Failures:     []RecordOutcome{},
		Skipped:      []RecordOutcome{},
	}
	for _, r := range sorted {
		if r.CommitStatus == stagingrecord.CommitPending {
			continue
		}
		counts := report.ByEntityType[r.EntityType]
		counts.add(r.CommitStatus)
		report.ByEntityType[r.EntityType] = counts
		report.Totals.add(r.CommitStatus)

		outcome := RecordOutcome{RecordID: r.ID, LocalID: r.LocalID, EntityType: r.EntityType, Reason: r.CommitMessage}
		switch r.CommitStatus {
		case stagingrecord.CommitCommitted:
			if r.CommittedEntityID != nil {
				report.Mappings = append(report.Mappings, EntityMapping{
					RecordID:    r.ID,
					LocalID:     r.LocalID,
					EntityType:  r.EntityType,
					EntityID:    *r.CommittedEntityID,
					Disposition: r.Disposition,
				})
			}
		case stagingrecord.CommitFailed:
			report.Failures = append(report.Failures, outcome)
		case stagingrecord.CommitSkipped:
			report.Skipped = append(report.Skipped, outcome)
		}
	}
	return report
}
