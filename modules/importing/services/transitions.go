package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/events"
)

type statusChange struct {
	from   importpackage.Status
	to     importpackage.Status
	reason string
}

// changeLog collects the transitions of a transaction so they are announced
// only once it has committed.
type changeLog []statusChange

// move persists a transition of pkg.
func (d *Dependencies) move(ctx context.Context, pkg importpackage.ImportPackage, to importpackage.Status, reason string, log *changeLog) (importpackage.ImportPackage, error) {
	next, err := pkg.TransitionTo(to, reason, d.now())
	if err != nil {
		return pkg, err
	}
	if err := d.Packages.Update(ctx, next); err != nil {
		return pkg, err
	}
	*log = append(*log, statusChange{from: pkg.Status(), to: to, reason: reason})
	return next, nil
}

func (d *Dependencies) fail(ctx context.Context, pkg importpackage.ImportPackage, stage, reason string, log *changeLog) (importpackage.ImportPackage, error) {
	next, err := pkg.Fail(stage, reason, d.now())
	if err != nil {
		return pkg, err
	}
	if err := d.Packages.Update(ctx, next); err != nil {
		return pkg, err
	}
	*log = append(*log, statusChange{from: pkg.Status(), to: importpackage.StatusFailed, reason: reason})
	return next, nil
}

func (d *Dependencies) publish(args ...interface{}) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(args...)
}

// announce records metrics and publishes events for committed transitions.
func (d *Dependencies) announce(pkg importpackage.ImportPackage, actor *uuid.UUID, log changeLog) {
	for _, ch := range log {
		recordTransition(string(ch.from), string(ch.to))
		d.publish(&events.PackageStatusChangedV1{
			EventID:      uuid.New(),
			EventVersion: events.EventVersionV1,
			PackageID:    pkg.ID(),
			ExternalID:   pkg.ExternalID(),
			From:         string(ch.from),
			To:           string(ch.to),
			Reason:       ch.reason,
			InitiatorID:  actor,
			OccurredAt:   d.now(),
		})
	}
}
