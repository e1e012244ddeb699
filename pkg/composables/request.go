package composables

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/form"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/pkg/constants"
	"github.com/iota-uz/field-registry/pkg/logging"
)

var queryDecoder = form.NewDecoder()

var (
	ErrNoLogger = errors.New("logger not found")
	ErrNoActor  = errors.New("actor not found in context")
)

type Params struct {
	IP        string
	UserAgent string
	Request   *http.Request
	Writer    http.ResponseWriter
}

// UseParams returns the request parameters from the context.
// If the parameters are not found, the second return value will be false.
func UseParams(ctx context.Context) (*Params, bool) {
	params, ok := ctx.Value(constants.ParamsKey).(*Params)
	return params, ok
}

func WithParams(ctx context.Context, params *Params) context.Context {
	return context.WithValue(ctx, constants.ParamsKey, params)
}

// UseLogger returns the request logger or a discarding entry outside a request.
func UseLogger(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok && logger != nil {
		return logger
	}
	return logging.NopEntry()
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// WithActorID stores the id of the authenticated user performing the request.
func WithActorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.ActorKey, id)
}

func UseActorID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(constants.ActorKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoActor
	}
	return id, nil
}

// UseQuery decodes the URL query into v using `form` struct tags.
func UseQuery[T any](v T, r *http.Request) (T, error) {
	return v, queryDecoder.Decode(v, r.URL.Query())
}
