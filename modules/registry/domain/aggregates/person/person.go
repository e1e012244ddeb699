package person

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Details is the mutable identity data of a registered person.
type Details struct {
	NationalID  string     `json:"national_id,omitempty"`
	FirstName   string     `json:"first_name"`
	FatherName  string     `json:"father_name,omitempty"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      Gender     `json:"gender,omitempty"`
	Phone       string     `json:"phone,omitempty"`
}

func (d Details) Normalize() Details {
	d.NationalID = strings.TrimSpace(d.NationalID)
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.FatherName = strings.TrimSpace(d.FatherName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.Gender = Gender(strings.ToLower(strings.TrimSpace(string(d.Gender))))
	d.Phone = NormalizePhone(d.Phone)
	if d.DateOfBirth != nil {
		dob := d.DateOfBirth.UTC().Truncate(24 * time.Hour)
		d.DateOfBirth = &dob
	}
	return d
}

type Person struct {
	id              uuid.UUID
	details         Details
	sourcePackageID uuid.UUID
	createdAt       time.Time
	updatedAt       time.Time
}

func New(id uuid.UUID, details Details, sourcePackageID uuid.UUID) Person {
	return Person{
		id:              id,
		details:         details.Normalize(),
		sourcePackageID: sourcePackageID,
	}
}

func Hydrate(
	id uuid.UUID,
	details Details,
	sourcePackageID uuid.UUID,
	createdAt time.Time,
	updatedAt time.Time,
) Person {
	return Person{
		id:              id,
		details:         details.Normalize(),
		sourcePackageID: sourcePackageID,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// Update replaces the identity data; the id and origin are immutable.
func (p Person) Update(details Details, at time.Time) Person {
	p.details = details.Normalize()
	p.updatedAt = at
	return p
}

func (p Person) ID() uuid.UUID              { return p.id }
func (p Person) Details() Details           { return p.details }
func (p Person) NationalID() string         { return p.details.NationalID }
func (p Person) SourcePackageID() uuid.UUID { return p.sourcePackageID }
func (p Person) CreatedAt() time.Time       { return p.createdAt }
func (p Person) UpdatedAt() time.Time       { return p.updatedAt }
func (p Person) IsZero() bool               { return p.id == uuid.Nil }

func (p Person) FullName() string {
	parts := make([]string, 0, 3)
	for _, v := range []string{p.details.FirstName, p.details.FatherName, p.details.LastName} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(v string) string {
	v = strings.TrimSpace(v)
	var b strings.Builder
	for i, r := range v {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
