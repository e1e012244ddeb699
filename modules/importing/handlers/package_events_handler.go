package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/events"
	"github.com/iota-uz/field-registry/pkg/application"
)

// PackageEventsHandler writes package lifecycle events to the application log.
type PackageEventsHandler struct {
	log *logrus.Entry
}

func NewPackageEventsHandler(log *logrus.Entry) *PackageEventsHandler {
	return &PackageEventsHandler{log: log.WithField("component", "import-events")}
}

func RegisterPackageEventHandlers(app application.Application) *PackageEventsHandler {
	h := NewPackageEventsHandler(logrus.NewEntry(app.Logger()))
	app.EventPublisher().Subscribe(h.onStatusChanged)
	app.EventPublisher().Subscribe(h.onCommitted)
	return h
}

func (h *PackageEventsHandler) onStatusChanged(ev *events.PackageStatusChangedV1) {
	if ev == nil {
		return
	}
	entry := h.log.WithFields(logrus.Fields{
		"package_id":  ev.PackageID,
		"external_id": ev.ExternalID,
		"from":        ev.From,
		"to":          ev.To,
	})
	if ev.Reason != "" {
		entry = entry.WithField("reason", ev.Reason)
	}
	switch importpackage.Status(ev.To) {
	case importpackage.StatusQuarantined, importpackage.StatusFailed:
		entry.Warn("import package needs attention")
	default:
		entry.Info("import package status changed")
	}
}

func (h *PackageEventsHandler) onCommitted(ev *events.PackageCommittedV1) {
	if ev == nil {
		return
	}
	entry := h.log.WithFields(logrus.Fields{
		"package_id":  ev.PackageID,
		"external_id": ev.ExternalID,
		"status":      ev.Status,
		"committed":   ev.Committed,
		"skipped":     ev.Skipped,
		"failed":      ev.Failed,
	})
	if ev.Failed > 0 {
		entry.Warn("import package committed with failures")
		return
	}
	entry.Info("import package committed")
}
