package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/evidence"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/relation"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

// ErrMissingReference mirrors a foreign key violation in the in-memory store.
var ErrMissingReference = errors.New("referenced entity does not exist")

// InmemStore keeps the production registry in transactional in-memory tables.
type InmemStore struct {
	persons   *inmem.Table[uuid.UUID, person.Person]
	units     *inmem.Table[uuid.UUID, propertyunit.PropertyUnit]
	relations *inmem.Table[uuid.UUID, relation.Relation]
	claims    *inmem.Table[uuid.UUID, claim.Claim]
	evidence  *inmem.Table[uuid.UUID, evidence.Evidence]
}

func NewInmemStore(db *inmem.DB) *InmemStore {
	return &InmemStore{
		persons:   inmem.NewTable[uuid.UUID, person.Person](db, nil),
		units:     inmem.NewTable[uuid.UUID, propertyunit.PropertyUnit](db, nil),
		relations: inmem.NewTable[uuid.UUID, relation.Relation](db, nil),
		claims:    inmem.NewTable[uuid.UUID, claim.Claim](db, nil),
		evidence:  inmem.NewTable[uuid.UUID, evidence.Evidence](db, nil),
	}
}

func (s *InmemStore) Persons() person.Repository             { return &inmemPersonRepository{s} }
func (s *InmemStore) PropertyUnits() propertyunit.Repository { return &inmemPropertyUnitRepository{s} }
func (s *InmemStore) Relations() relation.Repository         { return &inmemRelationRepository{s} }
func (s *InmemStore) Claims() claim.Repository               { return &inmemClaimRepository{s} }
func (s *InmemStore) Evidence() evidence.Repository          { return &inmemEvidenceRepository{s} }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type inmemPersonRepository struct{ s *InmemStore }

func (r *inmemPersonRepository) GetPaginated(_ context.Context, params *person.FindParams) ([]person.Person, int64, error) {
	if params == nil {
		params = &person.FindParams{}
	}
	q := strings.ToLower(strings.TrimSpace(params.Q))
	all := r.s.persons.Find(func(p person.Person) bool {
		if q == "" {
			return true
		}
		return p.NationalID() == q || strings.Contains(strings.ToLower(p.FullName()), q)
	})
	return page(all, params.Limit, params.Offset), int64(len(all)), nil
}

func (r *inmemPersonRepository) GetByID(_ context.Context, id uuid.UUID) (person.Person, error) {
	p, ok := r.s.persons.Get(id)
	if !ok {
		return person.Person{}, person.ErrNotFound
	}
	return p, nil
}

func (r *inmemPersonRepository) GetByNationalID(_ context.Context, nationalID string) (person.Person, error) {
	nationalID = strings.TrimSpace(nationalID)
	if nationalID == "" {
		return person.Person{}, person.ErrNotFound
	}
	found := r.s.persons.Find(func(p person.Person) bool { return p.NationalID() == nationalID })
	if len(found) == 0 {
		return person.Person{}, person.ErrNotFound
	}
	return found[0], nil
}

func (r *inmemPersonRepository) FindCandidates(_ context.Context, params person.CandidateParams) ([]person.Person, error) {
	nid := strings.TrimSpace(params.NationalID)
	last := strings.ToLower(strings.TrimSpace(params.LastName))
	phone := person.NormalizePhone(params.Phone)
	found := r.s.persons.Find(func(p person.Person) bool {
		d := p.Details()
		switch {
		case nid != "" && d.NationalID == nid:
			return true
		case last != "" && strings.ToLower(d.LastName) == last:
			return true
		case phone != "" && d.Phone == phone:
			return true
		case params.DateOfBirth != nil && d.DateOfBirth != nil && d.DateOfBirth.Equal(*params.DateOfBirth):
			return true
		}
		return false
	})
	return page(found, params.Limit, 0), nil
}

func (r *inmemPersonRepository) Create(ctx context.Context, p person.Person) (person.Person, error) {
	if _, ok := r.s.persons.Get(p.ID()); ok {
		return person.Person{}, fmt.Errorf("person %s already exists", p.ID())
	}
	if nid := p.NationalID(); nid != "" {
		if _, err := r.GetByNationalID(ctx, nid); err == nil {
			return person.Person{}, person.ErrNationalIDTaken
		}
	}
	now := time.Now()
	created := person.Hydrate(p.ID(), p.Details(), p.SourcePackageID(), now, now)
	r.s.persons.Put(created.ID(), created)
	return created, nil
}

func (r *inmemPersonRepository) Update(ctx context.Context, p person.Person) (person.Person, error) {
	existing, ok := r.s.persons.Get(p.ID())
	if !ok {
		return person.Person{}, person.ErrNotFound
	}
	if nid := p.NationalID(); nid != "" {
		if other, err := r.GetByNationalID(ctx, nid); err == nil && other.ID() != p.ID() {
			return person.Person{}, person.ErrNationalIDTaken
		}
	}
	updated := person.Hydrate(p.ID(), p.Details(), existing.SourcePackageID(), existing.CreatedAt(), time.Now())
	r.s.persons.Put(updated.ID(), updated)
	return updated, nil
}

type inmemPropertyUnitRepository struct{ s *InmemStore }

func (r *inmemPropertyUnitRepository) GetPaginated(_ context.Context, params *propertyunit.FindParams) ([]propertyunit.PropertyUnit, int64, error) {
	if params == nil {
		params = &propertyunit.FindParams{}
	}
	code := strings.TrimSpace(params.BuildingCode)
	all := r.s.units.Find(func(u propertyunit.PropertyUnit) bool {
		return code == "" || u.Details().BuildingCode == code
	})
	return page(all, params.Limit, params.Offset), int64(len(all)), nil
}

func (r *inmemPropertyUnitRepository) GetByID(_ context.Context, id uuid.UUID) (propertyunit.PropertyUnit, error) {
	u, ok := r.s.units.Get(id)
	if !ok {
		return propertyunit.PropertyUnit{}, propertyunit.ErrNotFound
	}
	return u, nil
}

func (r *inmemPropertyUnitRepository) GetByKey(_ context.Context, key propertyunit.Key) (propertyunit.PropertyUnit, error) {
	key = propertyunit.Key{
		BuildingCode:   strings.TrimSpace(key.BuildingCode),
		UnitIdentifier: propertyunit.NormalizeUnitIdentifier(key.UnitIdentifier),
	}
	found := r.s.units.Find(func(u propertyunit.PropertyUnit) bool { return u.Key() == key })
	if len(found) == 0 {
		return propertyunit.PropertyUnit{}, propertyunit.ErrNotFound
	}
	return found[0], nil
}

func (r *inmemPropertyUnitRepository) ListByBuilding(_ context.Context, buildingCode string, limit int) ([]propertyunit.PropertyUnit, error) {
	buildingCode = strings.TrimSpace(buildingCode)
	found := r.s.units.Find(func(u propertyunit.PropertyUnit) bool { return u.Details().BuildingCode == buildingCode })
	return page(found, limit, 0), nil
}

func (r *inmemPropertyUnitRepository) Create(ctx context.Context, u propertyunit.PropertyUnit) (propertyunit.PropertyUnit, error) {
	if _, err := r.GetByKey(ctx, u.Key()); err == nil {
		return propertyunit.PropertyUnit{}, propertyunit.ErrKeyTaken
	}
	now := time.Now()
	created := propertyunit.Hydrate(u.ID(), u.Details(), u.SourcePackageID(), now, now)
	r.s.units.Put(created.ID(), created)
	return created, nil
}

func (r *inmemPropertyUnitRepository) Update(ctx context.Context, u propertyunit.PropertyUnit) (propertyunit.PropertyUnit, error) {
	existing, ok := r.s.units.Get(u.ID())
	if !ok {
		return propertyunit.PropertyUnit{}, propertyunit.ErrNotFound
	}
	if other, err := r.GetByKey(ctx, u.Key()); err == nil && other.ID() != u.ID() {
		return propertyunit.PropertyUnit{}, propertyunit.ErrKeyTaken
	}
	updated := propertyunit.Hydrate(u.ID(), u.Details(), existing.SourcePackageID(), existing.CreatedAt(), time.Now())
	r.s.units.Put(updated.ID(), updated)
	return updated, nil
}

type inmemRelationRepository struct{ s *InmemStore }

func (r *inmemRelationRepository) Create(_ context.Context, rel *relation.Relation) error {
	if _, ok := r.s.persons.Get(rel.PersonID); !ok {
		return fmt.Errorf("%w: person %s", ErrMissingReference, rel.PersonID)
	}
	if _, ok := r.s.units.Get(rel.PropertyUnitID); !ok {
		return fmt.Errorf("%w: property unit %s", ErrMissingReference, rel.PropertyUnitID)
	}
	dup := r.s.relations.Find(func(x relation.Relation) bool {
		return x.PersonID == rel.PersonID && x.PropertyUnitID == rel.PropertyUnitID && x.RelationType == rel.RelationType
	})
	if len(dup) > 0 {
		return relation.ErrDuplicate
	}
	rel.CreatedAt = time.Now()
	r.s.relations.Put(rel.ID, *rel)
	return nil
}

func (r *inmemRelationRepository) ListByPropertyUnit(_ context.Context, propertyUnitID uuid.UUID) ([]*relation.Relation, error) {
	found := r.s.relations.Find(func(x relation.Relation) bool { return x.PropertyUnitID == propertyUnitID })
	out := make([]*relation.Relation, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}

type inmemClaimRepository struct{ s *InmemStore }

func (r *inmemClaimRepository) GetByID(_ context.Context, id uuid.UUID) (*claim.Claim, error) {
	c, ok := r.s.claims.Get(id)
	if !ok {
		return nil, claim.ErrNotFound
	}
	return &c, nil
}

func (r *inmemClaimRepository) ListByPropertyUnit(_ context.Context, propertyUnitID uuid.UUID) ([]*claim.Claim, error) {
	found := r.s.claims.Find(func(c claim.Claim) bool { return c.PropertyUnitID == propertyUnitID })
	out := make([]*claim.Claim, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}

func (r *inmemClaimRepository) Create(_ context.Context, c *claim.Claim) error {
	if _, ok := r.s.persons.Get(c.ClaimantID); !ok {
		return fmt.Errorf("%w: claimant %s", ErrMissingReference, c.ClaimantID)
	}
	if _, ok := r.s.units.Get(c.PropertyUnitID); !ok {
		return fmt.Errorf("%w: property unit %s", ErrMissingReference, c.PropertyUnitID)
	}
	if dup := r.s.claims.Find(func(x claim.Claim) bool { return x.ReferenceCode == c.ReferenceCode }); len(dup) > 0 {
		return claim.ErrReferenceTaken
	}
	c.CreatedAt = time.Now()
	r.s.claims.Put(c.ID, *c)
	return nil
}

type inmemEvidenceRepository struct{ s *InmemStore }

func (r *inmemEvidenceRepository) Create(_ context.Context, e *evidence.Evidence) error {
	if e.ClaimID != nil {
		if _, ok := r.s.claims.Get(*e.ClaimID); !ok {
			return fmt.Errorf("%w: claim %s", ErrMissingReference, *e.ClaimID)
		}
	}
	e.CreatedAt = time.Now()
	r.s.evidence.Put(e.ID, *e)
	return nil
}

func (r *inmemEvidenceRepository) CountByContentHash(_ context.Context, hash string) (int64, error) {
	return int64(len(r.s.evidence.Find(func(e evidence.Evidence) bool { return e.ContentHash == hash }))), nil
}

func (r *inmemEvidenceRepository) ListByClaim(_ context.Context, claimID uuid.UUID) ([]*evidence.Evidence, error) {
	found := r.s.evidence.Find(func(e evidence.Evidence) bool { return e.ClaimID != nil && *e.ClaimID == claimID })
	out := make([]*evidence.Evidence, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}
