package propertyunit

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuildingCodeLength is the number of digits in a cadastral building code.
const BuildingCodeLength = 17

var buildingCodePattern = regexp.MustCompile(`^\d{17}$`)

type Status string

const (
	StatusOccupied Status = "occupied"
	StatusVacant   Status = "vacant"
	StatusDamaged  Status = "damaged"
)

type Details struct {
	BuildingCode   string              `json:"building_code"`
	UnitIdentifier string              `json:"unit_identifier"`
	UnitType       string              `json:"unit_type"`
	Status         Status              `json:"status,omitempty"`
	Floor          *int                `json:"floor,omitempty"`
	AreaSqm        decimal.NullDecimal `json:"area_sqm"`
}

func (d Details) Normalize() Details {
	d.BuildingCode = strings.TrimSpace(d.BuildingCode)
	d.UnitIdentifier = NormalizeUnitIdentifier(d.UnitIdentifier)
	d.UnitType = strings.ToLower(strings.TrimSpace(d.UnitType))
	d.Status = Status(strings.ToLower(strings.TrimSpace(string(d.Status))))
	return d
}

// Key is the natural composite key of a property unit.
type Key struct {
	BuildingCode   string
	UnitIdentifier string
}

func (k Key) String() string {
	return k.BuildingCode + "/" + k.UnitIdentifier
}

type PropertyUnit struct {
	id              uuid.UUID
	details         Details
	sourcePackageID uuid.UUID
	createdAt       time.Time
	updatedAt       time.Time
}

func New(id uuid.UUID, details Details, sourcePackageID uuid.UUID) PropertyUnit {
	return PropertyUnit{id: id, details: details.Normalize(), sourcePackageID: sourcePackageID}
}

func Hydrate(id uuid.UUID, details Details, sourcePackageID uuid.UUID, createdAt, updatedAt time.Time) PropertyUnit {
	return PropertyUnit{
		id:              id,
		details:         details.Normalize(),
		sourcePackageID: sourcePackageID,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

func (u PropertyUnit) Update(details Details, at time.Time) PropertyUnit {
	u.details = details.Normalize()
	u.updatedAt = at
	return u
}

func (u PropertyUnit) ID() uuid.UUID              { return u.id }
func (u PropertyUnit) Details() Details           { return u.details }
func (u PropertyUnit) SourcePackageID() uuid.UUID { return u.sourcePackageID }
func (u PropertyUnit) CreatedAt() time.Time       { return u.createdAt }
func (u PropertyUnit) UpdatedAt() time.Time       { return u.updatedAt }

func (u PropertyUnit) Key() Key {
	return Key{BuildingCode: u.details.BuildingCode, UnitIdentifier: u.details.UnitIdentifier}
}

func ValidBuildingCode(code string) bool {
	return buildingCodePattern.MatchString(code)
}

// NormalizeUnitIdentifier upper-cases and drops separators so "apt 3-b" and "APT3B" compare equal.
func NormalizeUnitIdentifier(v string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(v)) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		}
	}
	return b.String()
}
