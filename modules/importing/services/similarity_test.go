package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
)

func TestFoldName(t *testing.T) {
	require.Equal(t, "jose", foldName("  José "))
	require.Equal(t, "muller", foldName("MÜLLER"))
	require.Equal(t, []string{"abd", "al", "karim"}, nameTokens("Abd-al Karim", "KARIM"))
}

func TestTokenOverlap(t *testing.T) {
	require.InDelta(t, 1.0, tokenOverlap([]string{"ahmad", "haddad"}, []string{"haddad", "ahmed"}), 1e-9)
	require.InDelta(t, 0.5, tokenOverlap([]string{"omar", "khalil"}, []string{"omar", "nasser"}), 1e-9)
	// Short tokens must match exactly.
	require.Zero(t, tokenOverlap([]string{"ali"}, []string{"aly"}))
	require.Zero(t, tokenOverlap(nil, []string{"omar"}))
}

func TestDOBProximity(t *testing.T) {
	day := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	base := day(1980, 5, 1)
	require.Equal(t, 1.0, dobProximity(base, day(1980, 5, 1)))
	require.Equal(t, 0.7, dobProximity(base, day(1980, 5, 20)))
	require.Equal(t, 0.3, dobProximity(base, day(1981, 1, 1)))
	require.Zero(t, dobProximity(base, day(1990, 1, 1)))
	require.Zero(t, dobProximity(base, nil))
}

func TestScorePersons(t *testing.T) {
	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	a := person.Details{NationalID: "12345678901", FirstName: "Omar", LastName: "Khalil"}

	m, ok := scorePersons(a, person.Details{NationalID: "12345678901", FirstName: "Someone", LastName: "Else"})
	require.True(t, ok)
	require.Equal(t, ruleNationalID, m.Rule)
	require.Equal(t, 1.0, m.Score)

	_, ok = scorePersons(a, person.Details{NationalID: "12345678902", FirstName: "Omar", LastName: "Khalil"})
	require.False(t, ok)

	b := person.Details{FirstName: "Ahmad", LastName: "Haddad", DateOfBirth: &dob, Phone: "+963 944 111 222"}
	c := person.Details{FirstName: "Ahmed", LastName: "Haddad", DateOfBirth: &dob, Phone: "+963944111222"}
	m, ok = scorePersons(b, c)
	require.True(t, ok)
	require.Equal(t, ruleWeighted, m.Rule)
	require.True(t, m.Phone)
	require.Equal(t, 1.0, m.Score)

	c.Phone = ""
	m, _ = scorePersons(b, c)
	require.InDelta(t, 0.8, m.Score, 1e-9)
}

func TestScoreUnits(t *testing.T) {
	m, ok := scoreUnits(testBuilding, "A12", "A12", 0.7, 0.9)
	require.True(t, ok)
	require.Equal(t, rulePropertyKey, m.Rule)
	require.Equal(t, 1.0, m.Score)

	m, ok = scoreUnits(testBuilding, "A12", "A13", 0.7, 0.9)
	require.True(t, ok)
	require.Equal(t, rulePropertyUnit, m.Rule)
	require.Equal(t, 1, m.EditDistance)
	require.GreaterOrEqual(t, m.Score, 0.7)
	require.Less(t, m.Score, 0.9)

	_, ok = scoreUnits(testBuilding, "A12", "B34", 0.7, 0.9)
	require.False(t, ok)
	_, ok = scoreUnits(testBuilding, "", "A12", 0.7, 0.9)
	require.False(t, ok)
}
