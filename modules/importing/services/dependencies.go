package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	registry "github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/eventbus"
	"github.com/iota-uz/field-registry/pkg/logging"
)

// Actor is the user on whose behalf a pipeline operation runs.
type Actor struct {
	UserID uuid.UUID
}

func (a Actor) check() error {
	if a.UserID == uuid.Nil {
		return errUnauthenticated()
	}
	return nil
}

// CodeValidator answers whether code belongs to a reference-data domain.
type CodeValidator interface {
	IsValidCode(domain, code string) bool
}

// AttachmentStore is the content-addressable store evidence files end up in.
type AttachmentStore interface {
	Store(ctx context.Context, data []byte) (string, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// PackageBlobStore keeps uploaded package bytes until they are archived.
type PackageBlobStore interface {
	PutIncoming(ctx context.Context, id uuid.UUID, raw []byte) (string, error)
	ReadIncoming(ctx context.Context, id uuid.UUID) ([]byte, error)
	Archive(ctx context.Context, id uuid.UUID) (string, error)
}

type AuditEntry struct {
	ActionType  string
	Description string
	EntityType  string
	EntityID    string
	OldValues   json.RawMessage
	NewValues   json.RawMessage
	UserID      *uuid.UUID
}

type AuditSink interface {
	LogAction(ctx context.Context, entry AuditEntry) error
}

type Transactor interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

type Dependencies struct {
	Packages    importpackage.Repository
	Staging     stagingrecord.Repository
	Conflicts   conflict.Repository
	Registry    registry.Repositories
	Transactor  Transactor
	Codes       CodeValidator
	Attachments AttachmentStore
	Blobs       PackageBlobStore
	Audit       AuditSink
	Events      eventbus.EventBus
	Options     configuration.ImportOptions
	Logger      *logrus.Entry
	Clock       func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d *Dependencies) logger(component string) *logrus.Entry {
	if d.Logger == nil {
		return logging.NopEntry().WithField("component", component)
	}
	return d.Logger.WithField("component", component)
}

// audit writes entry in its own (sub)transaction. Failures are logged and dropped.
func (d *Dependencies) audit(ctx context.Context, log *logrus.Entry, actor *uuid.UUID, entry AuditEntry) {
	if d.Audit == nil {
		return
	}
	entry.UserID = actor
	err := d.Transactor.InTx(ctx, func(txCtx context.Context) error {
		return d.Audit.LogAction(txCtx, entry)
	})
	if err != nil {
		log.WithError(err).WithField("action", entry.ActionType).Warn("audit entry dropped")
	}
}

func auditValues(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
