package constants

import (
	"github.com/go-playground/validator/v10"
)

type ContextKey string

const (
	AppKey       ContextKey = "app"
	TxKey        ContextKey = "tx"
	PoolKey      ContextKey = "pool"
	LoggerKey    ContextKey = "logger"
	ParamsKey    ContextKey = "params"
	RequestStart ContextKey = "request_start"
	ActorKey     ContextKey = "actor"
	InmemTxKey   ContextKey = "inmem_tx"
)

// Validate is the shared struct validator; custom tags are registered on it at init.
var Validate = validator.New(validator.WithRequiredStructEnabled())
