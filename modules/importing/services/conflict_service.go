package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
)

type ConflictService struct {
	deps    *Dependencies
	effects *resolutionEffects
	log     *logrus.Entry
}

func NewConflictService(deps *Dependencies, validator *Validator) *ConflictService {
	return &ConflictService{
		deps:    deps,
		effects: &resolutionEffects{deps: deps, validator: validator},
		log:     deps.logger("conflict_service"),
	}
}

type ResolveParams struct {
	Action            conflict.ResolutionAction
	Reason            string
	Notes             string
	MergedEntityID    *uuid.UUID
	DiscardedEntityID *uuid.UUID
	MergeMapping      json.RawMessage
}

// Now is the service clock, used to evaluate overdue state consistently.
func (s *ConflictService) Now() time.Time {
	return s.deps.now()
}

func (s *ConflictService) GetConflict(ctx context.Context, id uuid.UUID) (*conflict.Conflict, error) {
	c, err := s.deps.Conflicts.GetByID(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (s *ConflictService) GetConflictQueue(ctx context.Context, params *conflict.FindParams) ([]*conflict.Conflict, int64, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	if params.Now.IsZero() {
		params.Now = s.deps.now()
	}
	items, total, err := s.deps.Conflicts.GetPaginated(ctx, params)
	if err != nil {
		return nil, 0, mapError(err)
	}
	return items, total, nil
}

func (s *ConflictService) Summary(ctx context.Context, params *conflict.FindParams) (conflict.Summary, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	if params.Now.IsZero() {
		params.Now = s.deps.now()
	}
	summary, err := s.deps.Conflicts.Summary(ctx, params)
	if err != nil {
		return conflict.Summary{}, mapError(err)
	}
	return summary, nil
}

// mutate loads a conflict, applies fn and stores it, all in one transaction.
func (s *ConflictService) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, c *conflict.Conflict) error) (*conflict.Conflict, error) {
	var out *conflict.Conflict
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		c, err := s.deps.Conflicts.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := fn(txCtx, c); err != nil {
			return err
		}
		if err := s.deps.Conflicts.Update(txCtx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *ConflictService) Assign(ctx context.Context, actor Actor, id, assignee uuid.UUID) (*conflict.Conflict, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if assignee == uuid.Nil {
		return nil, errInvalidRequest("assignee is required")
	}
	c, err := s.mutate(ctx, id, func(_ context.Context, c *conflict.Conflict) error {
		return c.Assign(actor.UserID, assignee, s.deps.now())
	})
	if err != nil {
		return nil, err
	}
	s.deps.audit(ctx, s.log, &actor.UserID, AuditEntry{
		ActionType:  "import.conflict.assign",
		Description: "conflict " + c.Number + " assigned",
		EntityType:  "import_conflict",
		EntityID:    c.ID.String(),
		NewValues:   auditValues(map[string]any{"assigned_to": assignee}),
	})
	return c, nil
}

func (s *ConflictService) RecordReviewAttempt(ctx context.Context, actor Actor, id uuid.UUID, note string) (*conflict.Conflict, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(_ context.Context, c *conflict.Conflict) error {
		return c.RecordReviewAttempt(actor.UserID, note, s.deps.now())
	})
}

func (s *ConflictService) AddReviewNote(ctx context.Context, actor Actor, id uuid.UUID, note string) (*conflict.Conflict, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(_ context.Context, c *conflict.Conflict) error {
		return c.AddReviewNote(actor.UserID, note, s.deps.now())
	})
}

func (s *ConflictService) Escalate(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*conflict.Conflict, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errInvalidRequest("escalation reason is required")
	}
	c, err := s.mutate(ctx, id, func(_ context.Context, c *conflict.Conflict) error {
		return c.Escalate(actor.UserID, reason, s.deps.now())
	})
	if err != nil {
		return nil, err
	}
	s.deps.audit(ctx, s.log, &actor.UserID, AuditEntry{
		ActionType:  "import.conflict.escalate",
		Description: "conflict " + c.Number + " escalated",
		EntityType:  "import_conflict",
		EntityID:    c.ID.String(),
		NewValues:   auditValues(map[string]any{"reason": c.EscalationReason, "priority": c.Priority}),
	})
	return c, nil
}

// Resolve closes a pending conflict and applies its effect on the staging
// records of the package.
func (s *ConflictService) Resolve(ctx context.Context, actor Actor, id uuid.UUID, params ResolveParams) (*conflict.Conflict, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	res := conflict.Resolution{
		Action:            params.Action,
		Reason:            strings.TrimSpace(params.Reason),
		Notes:             strings.TrimSpace(params.Notes),
		MergedEntityID:    params.MergedEntityID,
		DiscardedEntityID: params.DiscardedEntityID,
		MergeMapping:      params.MergeMapping,
	}
	c, err := s.mutate(ctx, id, func(txCtx context.Context, c *conflict.Conflict) error {
		if !c.IsPending() {
			return conflict.ErrNotPending
		}
		if err := s.effects.check(c, res); err != nil {
			return err
		}
		if c.ImportPackageID != nil {
			pkg, err := s.deps.Packages.GetByID(txCtx, *c.ImportPackageID)
			if err != nil {
				return err
			}
			if pkg.IsTerminal() || pkg.HasStatus(importpackage.StatusCommitting) {
				return errInvalidState("package "+string(pkg.Status())+" no longer accepts resolutions", nil)
			}
		}
		if _, err := s.effects.apply(txCtx, c, res); err != nil {
			return err
		}
		if err := c.Resolve(actor.UserID, res, s.deps.now()); err != nil {
			return err
		}
		if c.ImportPackageID != nil {
			if _, err := s.deps.refreshCounts(txCtx, *c.ImportPackageID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordConflictResolved(string(c.Resolution.Action), false)
	s.log.WithFields(logrus.Fields{"conflict": c.Number, "action": c.Resolution.Action}).Info("conflict resolved")
	s.deps.audit(ctx, s.log, &actor.UserID, AuditEntry{
		ActionType:  "import.conflict.resolve",
		Description: "conflict " + c.Number + " resolved with " + string(c.Resolution.Action),
		EntityType:  "import_conflict",
		EntityID:    c.ID.String(),
		OldValues:   auditValues(map[string]any{"status": conflict.StatusPendingReview}),
		NewValues: auditValues(map[string]any{
			"status":              c.Status,
			"action":              c.Resolution.Action,
			"reason":              c.Resolution.Reason,
			"merged_entity_id":    c.Resolution.MergedEntityID,
			"discarded_entity_id": c.Resolution.DiscardedEntityID,
		}),
	})
	return c, nil
}

// SweepOverdue refreshes the stored overdue flags.
func (s *ConflictService) SweepOverdue(ctx context.Context) (int64, error) {
	var n int64
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		n, err = s.deps.Conflicts.SweepOverdue(txCtx, s.deps.now())
		return err
	})
	if err != nil {
		return 0, mapError(err)
	}
	if n > 0 {
		s.log.WithField("changed", n).Info("conflict overdue flags refreshed")
	}
	return n, nil
}
