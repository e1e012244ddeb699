package person

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesDetails(t *testing.T) {
	dob := time.Date(1990, 3, 4, 15, 30, 0, 0, time.UTC)
	p := New(uuid.New(), Details{
		NationalID:  " 0123456789 ",
		FirstName:   " Rana ",
		LastName:    "Haddad ",
		Gender:      "Female",
		Phone:       "+963 (11) 555-0101",
		DateOfBirth: &dob,
	}, uuid.Nil)

	require.Equal(t, "0123456789", p.NationalID())
	require.Equal(t, "Rana Haddad", p.FullName())
	require.Equal(t, GenderFemale, p.Details().Gender)
	require.Equal(t, "+963115550101", p.Details().Phone)
	require.Equal(t, time.Date(1990, 3, 4, 0, 0, 0, 0, time.UTC), *p.Details().DateOfBirth)
}

func TestUpdate_KeepsIdentity(t *testing.T) {
	id := uuid.New()
	src := uuid.New()
	p := New(id, Details{FirstName: "A", LastName: "B"}, src)
	at := time.Now()

	updated := p.Update(Details{FirstName: "C", LastName: "D"}, at)
	require.Equal(t, id, updated.ID())
	require.Equal(t, src, updated.SourcePackageID())
	require.Equal(t, "C D", updated.FullName())
	require.Equal(t, at, updated.UpdatedAt())
	require.Equal(t, "A B", p.FullName())
}
