package mappers

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/evidence"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/relation"
)

type PersonDTO struct {
	ID              uuid.UUID  `json:"id"`
	NationalID      string     `json:"national_id,omitempty"`
	FirstName       string     `json:"first_name"`
	FatherName      string     `json:"father_name,omitempty"`
	LastName        string     `json:"last_name"`
	FullName        string     `json:"full_name"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	Gender          string     `json:"gender,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	SourcePackageID *uuid.UUID `json:"source_package_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type PropertyUnitDTO struct {
	ID              uuid.UUID  `json:"id"`
	BuildingCode    string     `json:"building_code"`
	UnitIdentifier  string     `json:"unit_identifier"`
	UnitType        string     `json:"unit_type"`
	Status          string     `json:"status,omitempty"`
	Floor           *int       `json:"floor,omitempty"`
	AreaSqm         *string    `json:"area_sqm,omitempty"`
	SourcePackageID *uuid.UUID `json:"source_package_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type RelationDTO struct {
	ID           uuid.UUID  `json:"id"`
	PersonID     uuid.UUID  `json:"person_id"`
	RelationType string     `json:"relation_type"`
	Share        *string    `json:"share,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

type EvidenceDTO struct {
	ID           uuid.UUID `json:"id"`
	EvidenceType string    `json:"evidence_type"`
	ContentHash  string    `json:"content_hash"`
	FileName     string    `json:"file_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
}

type ClaimDTO struct {
	ID            uuid.UUID     `json:"id"`
	ReferenceCode string        `json:"reference_code"`
	ClaimantID    uuid.UUID     `json:"claimant_id"`
	ClaimType     string        `json:"claim_type"`
	Share         string        `json:"share"`
	ClaimedAt     *time.Time    `json:"claimed_at,omitempty"`
	Status        string        `json:"status"`
	Evidence      []EvidenceDTO `json:"evidence"`
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func PersonToDTO(p person.Person) PersonDTO {
	d := p.Details()
	return PersonDTO{
		ID:              p.ID(),
		NationalID:      d.NationalID,
		FirstName:       d.FirstName,
		FatherName:      d.FatherName,
		LastName:        d.LastName,
		FullName:        p.FullName(),
		DateOfBirth:     d.DateOfBirth,
		Gender:          string(d.Gender),
		Phone:           d.Phone,
		SourcePackageID: optionalID(p.SourcePackageID()),
		CreatedAt:       p.CreatedAt(),
		UpdatedAt:       p.UpdatedAt(),
	}
}

func PropertyUnitToDTO(u propertyunit.PropertyUnit) PropertyUnitDTO {
	d := u.Details()
	dto := PropertyUnitDTO{
		ID:              u.ID(),
		BuildingCode:    d.BuildingCode,
		UnitIdentifier:  d.UnitIdentifier,
		UnitType:        d.UnitType,
		Status:          string(d.Status),
		Floor:           d.Floor,
		SourcePackageID: optionalID(u.SourcePackageID()),
		CreatedAt:       u.CreatedAt(),
		UpdatedAt:       u.UpdatedAt(),
	}
	if d.AreaSqm.Valid {
		v := d.AreaSqm.Decimal.String()
		dto.AreaSqm = &v
	}
	return dto
}

func RelationToDTO(r *relation.Relation) RelationDTO {
	dto := RelationDTO{
		ID:           r.ID,
		PersonID:     r.PersonID,
		RelationType: r.RelationType,
		StartedAt:    r.StartedAt,
	}
	if r.Share.Valid {
		v := r.Share.Decimal.String()
		dto.Share = &v
	}
	return dto
}

func ClaimToDTO(c *claim.Claim, items []*evidence.Evidence) ClaimDTO {
	dto := ClaimDTO{
		ID:            c.ID,
		ReferenceCode: c.ReferenceCode,
		ClaimantID:    c.ClaimantID,
		ClaimType:     c.ClaimType,
		Share:         c.Share.String(),
		ClaimedAt:     c.ClaimedAt,
		Status:        string(c.Status),
		Evidence:      make([]EvidenceDTO, 0, len(items)),
	}
	for _, e := range items {
		dto.Evidence = append(dto.Evidence, EvidenceDTO{
			ID:           e.ID,
			EvidenceType: e.EvidenceType,
			ContentHash:  e.ContentHash,
			FileName:     e.FileName,
			MimeType:     e.MimeType,
			SizeBytes:    e.SizeBytes,
		})
	}
	return dto
}
