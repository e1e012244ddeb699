package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/evidence"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/relation"
)

// Repositories bundles the production store. The import commit engine writes
// through the same set.
type Repositories struct {
	Persons       person.Repository
	PropertyUnits propertyunit.Repository
	Relations     relation.Repository
	Claims        claim.Repository
	Evidence      evidence.Repository
}

// RegistryService is the read side of the production registry.
type RegistryService struct {
	repos Repositories
}

func NewRegistryService(repos Repositories) *RegistryService {
	return &RegistryService{repos: repos}
}

func (s *RegistryService) Repositories() Repositories {
	return s.repos
}

func (s *RegistryService) GetPersons(ctx context.Context, params *person.FindParams) ([]person.Person, int64, error) {
	if params != nil {
		params.Q = strings.TrimSpace(params.Q)
	}
	return s.repos.Persons.GetPaginated(ctx, params)
}

func (s *RegistryService) GetPerson(ctx context.Context, id uuid.UUID) (person.Person, error) {
	return s.repos.Persons.GetByID(ctx, id)
}

func (s *RegistryService) GetPropertyUnits(ctx context.Context, params *propertyunit.FindParams) ([]propertyunit.PropertyUnit, int64, error) {
	if params != nil {
		params.BuildingCode = strings.TrimSpace(params.BuildingCode)
	}
	return s.repos.PropertyUnits.GetPaginated(ctx, params)
}

func (s *RegistryService) GetPropertyUnit(ctx context.Context, id uuid.UUID) (propertyunit.PropertyUnit, error) {
	return s.repos.PropertyUnits.GetByID(ctx, id)
}

// UnitDossier is a property unit with everything attached to it.
type UnitDossier struct {
	Unit      propertyunit.PropertyUnit
	Relations []*relation.Relation
	Claims    []*claim.Claim
	Evidence  map[uuid.UUID][]*evidence.Evidence
}

func (s *RegistryService) GetUnitDossier(ctx context.Context, id uuid.UUID) (*UnitDossier, error) {
	unit, err := s.repos.PropertyUnits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	relations, err := s.repos.Relations.ListByPropertyUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	claims, err := s.repos.Claims.ListByPropertyUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := make(map[uuid.UUID][]*evidence.Evidence, len(claims))
	for _, c := range claims {
		items, err := s.repos.Evidence.ListByClaim(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			ev[c.ID] = items
		}
	}
	return &UnitDossier{Unit: unit, Relations: relations, Claims: claims, Evidence: ev}, nil
}
