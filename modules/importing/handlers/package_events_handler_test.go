package handlers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/domain/events"
	"github.com/iota-uz/field-registry/pkg/eventbus"
)

func TestPackageEventsHandler_LogsLifecycle(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	h := NewPackageEventsHandler(logrus.NewEntry(logger))

	bus := eventbus.NewEventPublisher(logger)
	bus.Subscribe(h.onStatusChanged)
	bus.Subscribe(h.onCommitted)

	id := uuid.New()
	bus.Publish(&events.PackageStatusChangedV1{PackageID: id, ExternalID: "PKG-1", From: "staging", To: "validating"})
	require.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	require.Equal(t, "validating", hook.LastEntry().Data["to"])

	bus.Publish(&events.PackageStatusChangedV1{PackageID: id, ExternalID: "PKG-1", From: "received", To: "quarantined", Reason: "content hash mismatch"})
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "content hash mismatch", hook.LastEntry().Data["reason"])

	bus.Publish(&events.PackageCommittedV1{PackageID: id, ExternalID: "PKG-1", Status: "partially_completed", Failed: 2})
	require.Equal(t, "import package committed with failures", hook.LastEntry().Message)
	require.Len(t, hook.AllEntries(), 3)
}
