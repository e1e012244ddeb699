package services

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
)

// Person score weights. They sum to one.
const (
	weightName  = 0.5
	weightDOB   = 0.3
	weightPhone = 0.2
)

// Tokens at least this long tolerate one edit.
const fuzzyTokenMinLen = 4

const (
	ruleNationalID   = "national_id_exact"
	ruleWeighted     = "weighted_name_dob_phone"
	rulePropertyKey  = "property_key_exact"
	rulePropertyUnit = "property_unit_similar"
	ruleClaimShares  = "ownership_share_exceeded"
)

var foldCaser = cases.Fold()

// foldName lower-cases s and strips diacritics.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return foldCaser.String(strings.TrimSpace(out))
}

func nameTokens(parts ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range parts {
		for _, tok := range strings.FieldsFunc(foldName(p), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func tokensMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len([]rune(a)) < fuzzyTokenMinLen || len([]rune(b)) < fuzzyTokenMinLen {
		return false
	}
	return fuzzy.LevenshteinDistance(a, b) <= 1
}

// tokenOverlap is the share of tokens that have a counterpart on the other side.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	matched := 0
	for _, ta := range a {
		for j, tb := range b {
			if !used[j] && tokensMatch(ta, tb) {
				used[j] = true
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(max(len(a), len(b)))
}

func dobProximity(a, b *time.Time) float64 {
	if a == nil || b == nil {
		return 0
	}
	days := math.Abs(a.Sub(*b).Hours() / 24)
	switch {
	case days < 1:
		return 1
	case days <= 30:
		return 0.7
	case days <= 365:
		return 0.3
	default:
		return 0
	}
}

// PersonMatch explains how a person score was reached.
type PersonMatch struct {
	Rule        string  `json:"rule"`
	NationalID  bool    `json:"national_id"`
	NameOverlap float64 `json:"name_overlap"`
	DOB         float64 `json:"date_of_birth"`
	Phone       bool    `json:"phone"`
	Score       float64 `json:"score"`
}

// scorePersons compares two persons. Differing national ids rule a match out.
func scorePersons(a, b person.Details) (PersonMatch, bool) {
	a, b = a.Normalize(), b.Normalize()
	if a.NationalID != "" && b.NationalID != "" {
		if a.NationalID == b.NationalID {
			return PersonMatch{Rule: ruleNationalID, NationalID: true, Score: 1}, true
		}
		return PersonMatch{}, false
	}
	m := PersonMatch{
		Rule:        ruleWeighted,
		NameOverlap: tokenOverlap(nameTokens(a.FirstName, a.FatherName, a.LastName), nameTokens(b.FirstName, b.FatherName, b.LastName)),
		DOB:         dobProximity(a.DateOfBirth, b.DateOfBirth),
		Phone:       a.Phone != "" && a.Phone == b.Phone,
	}
	m.Score = weightName*m.NameOverlap + weightDOB*m.DOB
	if m.Phone {
		m.Score += weightPhone
	}
	m.Score = roundScore(m.Score)
	return m, true
}

// PropertyMatch explains a property unit score.
type PropertyMatch struct {
	Rule           string  `json:"rule"`
	BuildingCode   string  `json:"building_code"`
	FirstUnit      string  `json:"first_unit"`
	SecondUnit     string  `json:"second_unit"`
	EditDistance   int     `json:"edit_distance"`
	UnitSimilarity float64 `json:"unit_similarity"`
	Score          float64 `json:"score"`
}

// scoreUnits compares normalized unit identifiers of the same building. Exact
// keys score 1; a single edit scores within [medium, high).
func scoreUnits(building, a, b string, medium, high float64) (PropertyMatch, bool) {
	m := PropertyMatch{BuildingCode: building, FirstUnit: a, SecondUnit: b}
	if a == b {
		m.Rule, m.Score, m.UnitSimilarity = rulePropertyKey, 1, 1
		return m, true
	}
	if a == "" || b == "" {
		return m, false
	}
	m.EditDistance = fuzzy.LevenshteinDistance(a, b)
	if m.EditDistance != 1 {
		return m, false
	}
	m.Rule = rulePropertyUnit
	m.UnitSimilarity = 1 - float64(m.EditDistance)/float64(max(len([]rune(a)), len([]rune(b))))
	m.Score = roundScore(medium + (high-medium)*m.UnitSimilarity*0.99)
	return m, true
}

func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}
