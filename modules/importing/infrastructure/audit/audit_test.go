package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/infrastructure/persistence"
	logging "github.com/iota-uz/field-registry/modules/logging/services"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func TestActionLogSink_LogAction(t *testing.T) {
	ctx := context.Background()
	db := inmem.NewDB()
	repo := persistence.NewInmemActionLogRepository(db)
	sink := NewActionLogSink(logging.NewLogsService(repo, true))

	user := uuid.New()
	err := db.InTx(ctx, func(txCtx context.Context) error {
		return sink.LogAction(txCtx, services.AuditEntry{
			ActionType:  "import.commit",
			Description: "package PKG-1 committed",
			EntityType:  "import_package",
			EntityID:    "8b0c",
			NewValues:   json.RawMessage(`{"status":"completed"}`),
			UserID:      &user,
		})
	})
	require.NoError(t, err)

	logs, err := repo.List(ctx, &actionlog.FindParams{EntityType: "import_package"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "import.commit", logs[0].ActionType)
	require.Equal(t, user, *logs[0].UserID)
	require.JSONEq(t, `{"status":"completed"}`, string(logs[0].NewValues))
	require.False(t, logs[0].CreatedAt.IsZero())
}

func TestActionLogSink_Disabled(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewInmemActionLogRepository(inmem.NewDB())
	sink := NewActionLogSink(logging.NewLogsService(repo, false))

	require.NoError(t, sink.LogAction(ctx, services.AuditEntry{ActionType: "import.stage"}))
	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}
