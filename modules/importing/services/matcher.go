package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	registry "github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/logging"
)

// Candidate is a potential conflict found by the matcher, not yet persisted.
type Candidate struct {
	Type       conflict.Type
	EntityType stagingrecord.EntityType
	First      conflict.EntityRef
	Second     conflict.EntityRef
	Score      float64
	Confidence conflict.ConfidenceLevel
	Criteria   json.RawMessage
	Comparison json.RawMessage
}

type DuplicateMatcher struct {
	registry registry.Repositories
	opts     configuration.ImportOptions
	log      *logrus.Entry
}

func NewDuplicateMatcher(repos registry.Repositories, opts configuration.ImportOptions, log *logrus.Entry) *DuplicateMatcher {
	if log == nil {
		log = logging.NopEntry()
	}
	return &DuplicateMatcher{registry: repos, opts: opts, log: log.WithField("component", "duplicate_matcher")}
}

type stagedPerson struct {
	rec     *stagingrecord.StagingRecord
	details person.Details
}

type stagedUnit struct {
	rec     *stagingrecord.StagingRecord
	details propertyunit.Details
}

type stagedClaim struct {
	rec     *stagingrecord.StagingRecord
	payload ClaimPayload
}

func matchable(r *stagingrecord.StagingRecord) bool {
	return r.PurgedAt == nil && !r.IsDiscarded() && r.Outcome != "" && r.Outcome != stagingrecord.OutcomeInvalid
}

// Match runs the person, property and claim passes in parallel over the
// package records and returns the candidates in a stable order.
func (m *DuplicateMatcher) Match(ctx context.Context, records []*stagingrecord.StagingRecord) ([]Candidate, error) {
	var persons []stagedPerson
	var units []stagedUnit
	var claims []stagedClaim
	byLocal := make(map[string]*stagingrecord.StagingRecord, len(records))
	for _, r := range records {
		byLocal[localKey(r.EntityType, r.LocalID)] = r
		if !matchable(r) {
			continue
		}
		switch r.EntityType {
		case stagingrecord.EntityPerson:
			p, err := decodePayload[PersonPayload](r.Payload)
			if err != nil {
				continue
			}
			persons = append(persons, stagedPerson{rec: r, details: p.Details()})
		case stagingrecord.EntityPropertyUnit:
			p, err := decodePayload[PropertyUnitPayload](r.Payload)
			if err != nil {
				continue
			}
			units = append(units, stagedUnit{rec: r, details: p.Details()})
		case stagingrecord.EntityClaim:
			p, err := decodePayload[ClaimPayload](r.Payload)
			if err != nil || !p.Share.Valid {
				continue
			}
			claims = append(claims, stagedClaim{rec: r, payload: p})
		}
	}
	sortBySeq := func(a, b *stagingrecord.StagingRecord) bool { return a.Seq < b.Seq }
	sort.SliceStable(persons, func(i, j int) bool { return sortBySeq(persons[i].rec, persons[j].rec) })
	sort.SliceStable(units, func(i, j int) bool { return sortBySeq(units[i].rec, units[j].rec) })
	sort.SliceStable(claims, func(i, j int) bool { return sortBySeq(claims[i].rec, claims[j].rec) })

	var personOut, unitOut, claimOut []Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		personOut, err = m.matchPersons(gctx, persons)
		return err
	})
	g.Go(func() error {
		var err error
		unitOut, err = m.matchUnits(gctx, units)
		return err
	})
	g.Go(func() error {
		var err error
		claimOut, err = m.matchClaims(gctx, claims, byLocal)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(personOut)+len(unitOut)+len(claimOut))
	out = append(out, personOut...)
	out = append(out, unitOut...)
	out = append(out, claimOut...)
	m.log.WithFields(logrus.Fields{
		"persons": len(personOut), "property_units": len(unitOut), "claims": len(claimOut),
	}).Debug("duplicate matching finished")
	return out, nil
}

func (m *DuplicateMatcher) candidate(
	t conflict.Type,
	entityType stagingrecord.EntityType,
	first, second conflict.EntityRef,
	score float64,
	criteria any,
	firstData, secondData any,
) (Candidate, error) {
	crit, err := json.Marshal(criteria)
	if err != nil {
		return Candidate{}, err
	}
	cmp, err := dataComparison(firstData, secondData)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Type:       t,
		EntityType: entityType,
		First:      first,
		Second:     second,
		Score:      score,
		Confidence: conflict.Bucket(score, m.opts.HighConfidence, m.opts.MediumConfidence),
		Criteria:   crit,
		Comparison: cmp,
	}, nil
}

// dataComparison snapshots both sides and the JSON patch turning first into second.
func dataComparison(first, second any) (json.RawMessage, error) {
	a, err := json.Marshal(first)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(second)
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(a, b)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		patch = jsondiff.Patch{}
	}
	return json.Marshal(struct {
		First  json.RawMessage `json:"first"`
		Second json.RawMessage `json:"second"`
		Diff   jsondiff.Patch  `json:"diff"`
	}{First: a, Second: b, Diff: patch})
}

func stagingRef(r *stagingrecord.StagingRecord, display string) conflict.EntityRef {
	return conflict.EntityRef{ID: r.ID, Kind: conflict.RefStaging, Display: display}
}

func productionRef(id uuid.UUID, display string) conflict.EntityRef {
	return conflict.EntityRef{ID: id, Kind: conflict.RefProduction, Display: display}
}

func personDisplay(d person.Details, fallback string) string {
	name := person.New(uuid.Nil, d, uuid.Nil).FullName()
	if name == "" {
		name = fallback
	}
	if d.NationalID != "" {
		return fmt.Sprintf("%s (%s)", name, d.NationalID)
	}
	return name
}

func unitDisplay(d propertyunit.Details) string {
	return propertyunit.Key{BuildingCode: d.BuildingCode, UnitIdentifier: d.UnitIdentifier}.String()
}

func (m *DuplicateMatcher) lookupLimit() int {
	if m.opts.MatchWorkers > 0 {
		return m.opts.MatchWorkers
	}
	return 1
}

func (m *DuplicateMatcher) matchPersons(ctx context.Context, persons []stagedPerson) ([]Candidate, error) {
	results := make([][]Candidate, len(persons))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.lookupLimit())
	for i := range persons {
		sp := persons[i]
		g.Go(func() error {
			found, err := m.registry.Persons.FindCandidates(gctx, person.CandidateParams{
				NationalID:  sp.details.NationalID,
				LastName:    sp.details.LastName,
				Phone:       sp.details.Phone,
				DateOfBirth: sp.details.DateOfBirth,
				Limit:       m.opts.CandidateLimit,
			})
			if err != nil {
				return fmt.Errorf("person candidates for %s: %w", sp.rec.LocalID, err)
			}
			var out []Candidate
			for _, prod := range found {
				match, ok := scorePersons(sp.details, prod.Details())
				if !ok || match.Score < m.opts.MatchFloor {
					continue
				}
				c, err := m.candidate(
					conflict.TypePersonDuplicate, stagingrecord.EntityPerson,
					productionRef(prod.ID(), personDisplay(prod.Details(), prod.ID().String())),
					stagingRef(sp.rec, personDisplay(sp.details, sp.rec.LocalID)),
					match.Score, match, prod.Details(), sp.details,
				)
				if err != nil {
					return err
				}
				out = append(out, c)
			}
			sortCandidates(out)
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}

	// Within the batch only records sharing a national id or a folded last name are compared.
	blocks := make(map[string][]int)
	var order []string
	for i, sp := range persons {
		var keys []string
		if sp.details.NationalID != "" {
			keys = append(keys, "nid:"+sp.details.NationalID)
		}
		if last := foldName(sp.details.LastName); last != "" {
			keys = append(keys, "last:"+last)
		}
		for _, k := range keys {
			if _, ok := blocks[k]; !ok {
				order = append(order, k)
			}
			blocks[k] = append(blocks[k], i)
		}
	}
	seen := make(map[[2]int]struct{})
	var pairs [][2]int
	for _, k := range order {
		members := blocks[k]
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				pair := [2]int{members[a], members[b]}
				if _, ok := seen[pair]; ok {
					continue
				}
				seen[pair] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pair := range pairs {
		first, second := persons[pair[0]], persons[pair[1]]
		match, ok := scorePersons(first.details, second.details)
		if !ok || match.Score < m.opts.MatchFloor {
			continue
		}
		c, err := m.candidate(
			conflict.TypePersonDuplicateWithinBatch, stagingrecord.EntityPerson,
			stagingRef(first.rec, personDisplay(first.details, first.rec.LocalID)),
			stagingRef(second.rec, personDisplay(second.details, second.rec.LocalID)),
			match.Score, match, first.details, second.details,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *DuplicateMatcher) matchUnits(ctx context.Context, units []stagedUnit) ([]Candidate, error) {
	results := make([][]Candidate, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.lookupLimit())
	for i := range units {
		su := units[i]
		g.Go(func() error {
			var found []propertyunit.PropertyUnit
			exact, err := m.registry.PropertyUnits.GetByKey(gctx, propertyunit.Key{
				BuildingCode: su.details.BuildingCode, UnitIdentifier: su.details.UnitIdentifier,
			})
			switch {
			case err == nil:
				found = []propertyunit.PropertyUnit{exact}
			case errors.Is(err, propertyunit.ErrNotFound):
				found, err = m.registry.PropertyUnits.ListByBuilding(gctx, su.details.BuildingCode, m.opts.CandidateLimit)
				if err != nil {
					return fmt.Errorf("units of building %s: %w", su.details.BuildingCode, err)
				}
			default:
				return fmt.Errorf("unit by key for %s: %w", su.rec.LocalID, err)
			}
			var out []Candidate
			for _, prod := range found {
				pd := prod.Details()
				match, ok := scoreUnits(pd.BuildingCode, pd.UnitIdentifier, su.details.UnitIdentifier,
					m.opts.MediumConfidence, m.opts.HighConfidence)
				if !ok || match.Score < m.opts.MatchFloor {
					continue
				}
				c, err := m.candidate(
					conflict.TypePropertyDuplicate, stagingrecord.EntityPropertyUnit,
					productionRef(prod.ID(), unitDisplay(pd)),
					stagingRef(su.rec, unitDisplay(su.details)),
					match.Score, match, pd, su.details,
				)
				if err != nil {
					return err
				}
				out = append(out, c)
			}
			sortCandidates(out)
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}

	byBuilding := make(map[string][]int)
	var buildings []string
	for i, su := range units {
		code := su.details.BuildingCode
		if _, ok := byBuilding[code]; !ok {
			buildings = append(buildings, code)
		}
		byBuilding[code] = append(byBuilding[code], i)
	}
	for _, code := range buildings {
		members := byBuilding[code]
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				first, second := units[members[a]], units[members[b]]
				match, ok := scoreUnits(code, first.details.UnitIdentifier, second.details.UnitIdentifier,
					m.opts.MediumConfidence, m.opts.HighConfidence)
				if !ok || match.Score < m.opts.MatchFloor {
					continue
				}
				c, err := m.candidate(
					conflict.TypePropertyDuplicateWithinBatch, stagingrecord.EntityPropertyUnit,
					stagingRef(first.rec, unitDisplay(first.details)),
					stagingRef(second.rec, unitDisplay(second.details)),
					match.Score, match, first.details, second.details,
				)
				if err != nil {
					return nil, err
				}
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// ClaimMatch explains a claim contradiction.
type ClaimMatch struct {
	Rule           string          `json:"rule"`
	PropertyUnit   string          `json:"property_unit"`
	ClaimShare     decimal.Decimal `json:"claim_share"`
	RunningTotal   decimal.Decimal `json:"running_total"`
	CompetingShare decimal.Decimal `json:"competing_share"`
}

type shareHolder struct {
	ref   conflict.EntityRef
	share decimal.Decimal
	data  any
}

// matchClaims walks the ownership claims of each unit, production claims first,
// and flags every staged claim that pushes the total share past 100%.
func (m *DuplicateMatcher) matchClaims(ctx context.Context, claims []stagedClaim, byLocal map[string]*stagingrecord.StagingRecord) ([]Candidate, error) {
	type unitGroup struct {
		key          string
		productionID *uuid.UUID
		claims       []stagedClaim
	}
	groups := make(map[string]*unitGroup)
	var order []string
	for _, sc := range claims {
		if sc.payload.ClaimType != claim.TypeOwnership {
			continue
		}
		var key string
		var prodID *uuid.UUID
		switch {
		case sc.payload.PropertyUnitRef != "":
			unit, ok := byLocal[localKey(stagingrecord.EntityPropertyUnit, sc.payload.PropertyUnitRef)]
			if !ok {
				continue
			}
			key = "staging:" + unit.ID.String()
		case sc.payload.PropertyUnitID != nil:
			id := *sc.payload.PropertyUnitID
			key, prodID = "production:"+id.String(), &id
		default:
			continue
		}
		grp, ok := groups[key]
		if !ok {
			grp = &unitGroup{key: key, productionID: prodID}
			groups[key] = grp
			order = append(order, key)
		}
		grp.claims = append(grp.claims, sc)
	}

	var out []Candidate
	for _, key := range order {
		grp := groups[key]
		var holders []shareHolder
		total := decimal.Zero
		if grp.productionID != nil {
			existing, err := m.registry.Claims.ListByPropertyUnit(ctx, *grp.productionID)
			if err != nil {
				return nil, fmt.Errorf("claims of unit %s: %w", grp.productionID, err)
			}
			for _, c := range existing {
				if !c.IsOwnership() {
					continue
				}
				holders = append(holders, shareHolder{ref: productionRef(c.ID, c.ReferenceCode), share: c.Share, data: c})
				total = total.Add(c.Share)
			}
		}
		for _, sc := range grp.claims {
			share := sc.payload.Share.Decimal
			total = total.Add(share)
			ref := stagingRef(sc.rec, "claim "+sc.rec.LocalID)
			if total.GreaterThan(claim.FullShare) && len(holders) > 0 {
				competitor := holders[0]
				for _, h := range holders[1:] {
					if h.share.GreaterThan(competitor.share) {
						competitor = h
					}
				}
				match := ClaimMatch{
					Rule:           ruleClaimShares,
					PropertyUnit:   grp.key,
					ClaimShare:     share,
					RunningTotal:   total,
					CompetingShare: competitor.share,
				}
				c, err := m.candidate(
					conflict.TypeClaimConflict, stagingrecord.EntityClaim,
					competitor.ref, ref, 1, match, competitor.data, sc.payload,
				)
				if err != nil {
					return nil, err
				}
				c.Confidence = conflict.ConfidenceHigh
				out = append(out, c)
			}
			holders = append(holders, shareHolder{ref: ref, share: share, data: sc.payload})
		}
	}
	return out, nil
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].First.ID.String() < cs[j].First.ID.String()
	})
}
