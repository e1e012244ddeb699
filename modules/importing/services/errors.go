package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
)

const (
	CodeUnauthenticated   = "IMPORT_UNAUTHENTICATED"
	CodeInvalidRequest    = "IMPORT_INVALID_REQUEST"
	CodePackageNotFound   = "IMPORT_PACKAGE_NOT_FOUND"
	CodeRecordNotFound    = "IMPORT_RECORD_NOT_FOUND"
	CodeConflictNotFound  = "IMPORT_CONFLICT_NOT_FOUND"
	CodeInvalidState      = "IMPORT_INVALID_STATE"
	CodePendingConflicts  = "IMPORT_PENDING_CONFLICTS"
	CodeNothingApproved   = "IMPORT_NOTHING_APPROVED"
	CodeInvalidRecords    = "IMPORT_INVALID_RECORDS"
	CodeRecordNotEligible = "IMPORT_RECORD_NOT_ELIGIBLE"
	CodeDuplicatePackage  = "IMPORT_DUPLICATE_PACKAGE"
	CodeCommitInProgress  = "IMPORT_COMMIT_IN_PROGRESS"
	CodeCommitAborted     = "IMPORT_COMMIT_ABORTED"
	CodePackageTooLarge   = "IMPORT_PACKAGE_TOO_LARGE"
	CodeMalformedManifest = "IMPORT_MALFORMED_MANIFEST"
	CodeInvalidResolution = "IMPORT_INVALID_RESOLUTION"
	CodeStageInterrupted  = "IMPORT_STAGE_INTERRUPTED"
	CodeUniqueViolation   = "IMPORT_UNIQUE_VIOLATION"
	CodeMissingReference  = "IMPORT_MISSING_REFERENCE"
	CodeInternal          = "IMPORT_INTERNAL"
)

// ServiceError is what the HTTP layer renders: a status, a stable code and a message.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func errUnauthenticated() error {
	return newServiceError(http.StatusUnauthorized, CodeUnauthenticated, "missing acting user", nil)
}

func errInvalidRequest(message string) error {
	return newServiceError(http.StatusBadRequest, CodeInvalidRequest, message, nil)
}

func errInvalidState(message string, cause error) error {
	return newServiceError(http.StatusConflict, CodeInvalidState, message, cause)
}

// mapError turns domain and storage errors into service errors. Anything it
// does not recognize is returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	switch {
	case errors.Is(err, importpackage.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodePackageNotFound, "import package not found", err)
	case errors.Is(err, stagingrecord.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeRecordNotFound, "staging record not found", err)
	case errors.Is(err, conflict.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeConflictNotFound, "conflict not found", err)
	case errors.Is(err, importpackage.ErrInvalidTransition):
		return errInvalidState(err.Error(), err)
	case errors.Is(err, conflict.ErrNotPending), errors.Is(err, conflict.ErrAlreadyEscalated):
		return errInvalidState(err.Error(), err)
	case errors.Is(err, conflict.ErrInvalidResolution), errors.Is(err, conflict.ErrEmptyNote):
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidResolution, err.Error(), err)
	case errors.Is(err, importpackage.ErrDuplicateExternal):
		return newServiceError(http.StatusConflict, CodeDuplicatePackage, "package already uploaded", err)
	case errors.Is(err, importpackage.ErrLocked):
		return newServiceError(http.StatusConflict, CodeCommitInProgress, "package is being committed", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newServiceError(http.StatusServiceUnavailable, CodeStageInterrupted, "operation interrupted, re-run to resume", err)
	}
	return mapPgError(err)
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, CodeRecordNotFound, "not found", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return newServiceError(http.StatusConflict, CodeUniqueViolation, "unique constraint violated", err)
	case "23503": // foreign_key_violation
		return newServiceError(http.StatusUnprocessableEntity, CodeMissingReference, "referenced entity does not exist", err)
	case "55P03": // lock_not_available
		return newServiceError(http.StatusConflict, CodeCommitInProgress, "package is being committed", err)
	default:
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
