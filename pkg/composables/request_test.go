package composables

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUseActorID(t *testing.T) {
	_, err := UseActorID(context.Background())
	require.ErrorIs(t, err, ErrNoActor)

	_, err = UseActorID(WithActorID(context.Background(), uuid.Nil))
	require.ErrorIs(t, err, ErrNoActor)

	id := uuid.New()
	got, err := UseActorID(WithActorID(context.Background(), id))
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestUseLogger_OutsideRequest(t *testing.T) {
	require.NotNil(t, UseLogger(context.Background()))
}

func TestUseTx_WithoutPool(t *testing.T) {
	_, err := UseTx(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}
