package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/infrastructure/persistence"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func TestLogsService_CreateActionLog_FillsRequestMetadata(t *testing.T) {
	repo := persistence.NewInmemActionLogRepository(inmem.NewDB())
	svc := NewLogsService(repo, true)

	actor := uuid.New()
	ctx := composables.WithActorID(context.Background(), actor)
	ctx = composables.WithParams(ctx, &composables.Params{IP: "10.0.0.7", UserAgent: "field-tablet"})

	entry := &actionlog.ActionLog{
		ActionType: "import.package.commit",
		EntityType: "import_package",
		EntityID:   uuid.NewString(),
		NewValues:  json.RawMessage(`{"status":"completed"}`),
	}
	require.NoError(t, svc.CreateActionLog(ctx, entry))

	logs, total, err := svc.ListActionLogs(context.Background(), &actionlog.FindParams{EntityType: "import_package"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "10.0.0.7", logs[0].IP)
	require.Equal(t, "field-tablet", logs[0].UserAgent)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, actor, *logs[0].UserID)
}

func TestLogsService_Disabled(t *testing.T) {
	repo := persistence.NewInmemActionLogRepository(inmem.NewDB())
	svc := NewLogsService(repo, false)

	require.NoError(t, svc.CreateActionLog(context.Background(), &actionlog.ActionLog{ActionType: "x"}))
	count, err := repo.Count(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestLogsService_RequiresActionType(t *testing.T) {
	svc := NewLogsService(persistence.NewInmemActionLogRepository(inmem.NewDB()), true)
	require.ErrorIs(t, svc.CreateActionLog(context.Background(), &actionlog.ActionLog{}), ErrMissingActionType)
}

func TestLogsService_ClipsToColumnWidths(t *testing.T) {
	repo := persistence.NewInmemActionLogRepository(inmem.NewDB())
	svc := NewLogsService(repo, true)

	entry := &actionlog.ActionLog{
		ActionType: "  import.package.stage  ",
		UserAgent:  strings.Repeat("ü", 600),
	}
	require.NoError(t, svc.CreateActionLog(context.Background(), entry))
	require.Equal(t, "import.package.stage", entry.ActionType)
	require.Equal(t, 512, utf8.RuneCountInString(entry.UserAgent))
}

func TestLogsService_ListEmpty(t *testing.T) {
	svc := NewLogsService(persistence.NewInmemActionLogRepository(inmem.NewDB()), true)
	logs, total, err := svc.ListActionLogs(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, total)
	require.NotNil(t, logs)
	require.Empty(t, logs)
}
