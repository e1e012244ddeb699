package events

import (
	"time"

	"github.com/google/uuid"
)

const EventVersionV1 = 1

type PackageStatusChangedV1 struct {
	EventID      uuid.UUID  `json:"event_id"`
	EventVersion int        `json:"event_version"`
	PackageID    uuid.UUID  `json:"package_id"`
	ExternalID   string     `json:"external_id"`
	From         string     `json:"from"`
	To           string     `json:"to"`
	Reason       string     `json:"reason,omitempty"`
	InitiatorID  *uuid.UUID `json:"initiator_id,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

type PackageCommittedV1 struct {
	EventID      uuid.UUID      `json:"event_id"`
	EventVersion int            `json:"event_version"`
	PackageID    uuid.UUID      `json:"package_id"`
	ExternalID   string         `json:"external_id"`
	Status       string         `json:"status"`
	Committed    map[string]int `json:"committed"`
	Skipped      int            `json:"skipped"`
	Failed       int            `json:"failed"`
	InitiatorID  uuid.UUID      `json:"initiator_id"`
	CommittedAt  time.Time      `json:"committed_at"`
}
