package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
)

const dateLayout = "2006-01-02"

// Date accepts both calendar dates and RFC 3339 timestamps.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(dateLayout))
}

func (d *Date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

type PersonPayload struct {
	NationalID  string `json:"national_id" validate:"omitempty,numeric,len=11"`
	FirstName   string `json:"first_name" validate:"required,max=100"`
	FatherName  string `json:"father_name" validate:"omitempty,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	DateOfBirth *Date  `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Phone       string `json:"phone" validate:"omitempty,max=32"`
}

func (p PersonPayload) Details() person.Details {
	return person.Details{
		NationalID:  p.NationalID,
		FirstName:   p.FirstName,
		FatherName:  p.FatherName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth.ptr(),
		Gender:      person.Gender(p.Gender),
		Phone:       p.Phone,
	}.Normalize()
}

type PropertyUnitPayload struct {
	BuildingCode   string              `json:"building_code" validate:"required"`
	UnitIdentifier string              `json:"unit_identifier" validate:"required,max=32"`
	UnitType       string              `json:"unit_type" validate:"required"`
	Status         string              `json:"status"`
	Floor          *int                `json:"floor" validate:"omitempty,min=-5,max=200"`
	AreaSqm        decimal.NullDecimal `json:"area_sqm"`
}

func (p PropertyUnitPayload) Details() propertyunit.Details {
	return propertyunit.Details{
		BuildingCode:   p.BuildingCode,
		UnitIdentifier: p.UnitIdentifier,
		UnitType:       p.UnitType,
		Status:         propertyunit.Status(p.Status),
		Floor:          p.Floor,
		AreaSqm:        p.AreaSqm,
	}.Normalize()
}

func (p PropertyUnitPayload) Key() propertyunit.Key {
	d := p.Details()
	return propertyunit.Key{BuildingCode: d.BuildingCode, UnitIdentifier: d.UnitIdentifier}
}

type RelationPayload struct {
	PersonRef       string              `json:"person_ref"`
	PersonID        *uuid.UUID          `json:"person_id"`
	PropertyUnitRef string              `json:"property_unit_ref"`
	PropertyUnitID  *uuid.UUID          `json:"property_unit_id"`
	RelationType    string              `json:"relation_type" validate:"required"`
	Share           decimal.NullDecimal `json:"share"`
	StartedAt       *Date               `json:"started_at"`
}

type ClaimPayload struct {
	ClaimantRef     string              `json:"claimant_ref"`
	ClaimantID      *uuid.UUID          `json:"claimant_id"`
	PropertyUnitRef string              `json:"property_unit_ref"`
	PropertyUnitID  *uuid.UUID          `json:"property_unit_id"`
	ClaimType       string              `json:"claim_type" validate:"required"`
	Share           decimal.NullDecimal `json:"share"`
	ClaimedAt       *Date               `json:"claimed_at"`
	Notes           string              `json:"notes" validate:"max=2000"`
}

type EvidencePayload struct {
	EvidenceType   string     `json:"evidence_type" validate:"required"`
	AttachmentHash string     `json:"attachment_hash" validate:"required"`
	FileName       string     `json:"file_name" validate:"max=255"`
	ClaimRef       string     `json:"claim_ref"`
	ClaimID        *uuid.UUID `json:"claim_id"`
	RelationRef    string     `json:"relation_ref"`
	PersonRef      string     `json:"person_ref"`
	PersonID       *uuid.UUID `json:"person_id"`
}

// reference is a pointer from a staged child to its parent, either a local id
// in the same package or an existing production id.
type reference struct {
	Field      string
	EntityType stagingrecord.EntityType
	LocalRef   string
	ProductID  *uuid.UUID
}

func (r reference) isSet() bool {
	return strings.TrimSpace(r.LocalRef) != "" || (r.ProductID != nil && *r.ProductID != uuid.Nil)
}

func (p RelationPayload) references() []reference {
	return []reference{
		{Field: "person", EntityType: stagingrecord.EntityPerson, LocalRef: p.PersonRef, ProductID: p.PersonID},
		{Field: "property_unit", EntityType: stagingrecord.EntityPropertyUnit, LocalRef: p.PropertyUnitRef, ProductID: p.PropertyUnitID},
	}
}

func (p ClaimPayload) references() []reference {
	return []reference{
		{Field: "claimant", EntityType: stagingrecord.EntityPerson, LocalRef: p.ClaimantRef, ProductID: p.ClaimantID},
		{Field: "property_unit", EntityType: stagingrecord.EntityPropertyUnit, LocalRef: p.PropertyUnitRef, ProductID: p.PropertyUnitID},
	}
}

// references lists the evidence owners; exactly one is expected to be set.
func (p EvidencePayload) references() []reference {
	return []reference{
		{Field: "claim", EntityType: stagingrecord.EntityClaim, LocalRef: p.ClaimRef, ProductID: p.ClaimID},
		{Field: "relation", EntityType: stagingrecord.EntityRelation, LocalRef: p.RelationRef},
		{Field: "person", EntityType: stagingrecord.EntityPerson, LocalRef: p.PersonRef, ProductID: p.PersonID},
	}
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("payload is empty")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// recordReferences decodes the parent references of rec, if its type has any.
func recordReferences(rec *stagingrecord.StagingRecord) ([]reference, error) {
	switch rec.EntityType {
	case stagingrecord.EntityRelation:
		p, err := decodePayload[RelationPayload](rec.Payload)
		return p.references(), err
	case stagingrecord.EntityClaim:
		p, err := decodePayload[ClaimPayload](rec.Payload)
		return p.references(), err
	case stagingrecord.EntityEvidence:
		p, err := decodePayload[EvidencePayload](rec.Payload)
		return p.references(), err
	}
	return nil, nil
}
