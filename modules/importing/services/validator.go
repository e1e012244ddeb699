package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	registry "github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/constants"
)

// Reference-data domains the validator checks codes against.
const (
	DomainGender       = "gender"
	DomainUnitType     = "unit_type"
	DomainUnitStatus   = "unit_status"
	DomainRelationType = "relation_type"
	DomainClaimType    = "claim_type"
	DomainEvidenceType = "evidence_type"
)

// Message codes.
const (
	MsgMalformedPayload    = "malformed_payload"
	MsgUnknownEntityType   = "unknown_entity_type"
	MsgInvalidCode         = "invalid_code"
	MsgMissingReference    = "missing_reference"
	MsgUnknownReference    = "unknown_reference"
	MsgAmbiguousReference  = "ambiguous_reference"
	MsgInvalidParent       = "invalid_parent"
	MsgMissingAttachment   = "missing_attachment"
	MsgFutureDate          = "future_date"
	MsgImplausibleAge      = "implausible_age"
	MsgMissingNationalID   = "missing_national_id"
	MsgMissingDateOfBirth  = "missing_date_of_birth"
	MsgShortPhone          = "short_phone"
	MsgNonPositiveArea     = "non_positive_area"
	MsgMissingArea         = "missing_area"
	MsgShareOutOfRange     = "share_out_of_range"
	MsgMissingShare        = "missing_share"
	MsgMultipleOwners      = "multiple_owners"
	MsgMissingOwner        = "missing_owner"
	MsgInvalidBuildingCode = "invalid_building_code"
)

const maxAgeYears = 120

// BatchIndex is the view of a package the validator resolves local references
// against. Outcomes are read live, so parents validated earlier in the same run
// are seen with their new outcome.
type BatchIndex struct {
	records     map[string]*stagingrecord.StagingRecord
	attachments map[string]struct{}
}

func localKey(t stagingrecord.EntityType, localID string) string {
	return string(t) + ":" + strings.TrimSpace(localID)
}

func NewBatchIndex(records []*stagingrecord.StagingRecord, attachmentHashes map[string]struct{}) *BatchIndex {
	idx := &BatchIndex{
		records:     make(map[string]*stagingrecord.StagingRecord, len(records)),
		attachments: make(map[string]struct{}, len(attachmentHashes)),
	}
	for _, r := range records {
		idx.records[localKey(r.EntityType, r.LocalID)] = r
	}
	for h := range attachmentHashes {
		idx.attachments[strings.ToLower(h)] = struct{}{}
	}
	return idx
}

func (b *BatchIndex) Lookup(t stagingrecord.EntityType, localID string) (*stagingrecord.StagingRecord, bool) {
	r, ok := b.records[localKey(t, localID)]
	return r, ok
}

func (b *BatchIndex) HasAttachment(hash string) bool {
	_, ok := b.attachments[strings.ToLower(strings.TrimSpace(hash))]
	return ok
}

// ValidationResult is the outcome of validating one staging record.
type ValidationResult struct {
	Outcome  stagingrecord.Outcome
	Messages []stagingrecord.Message
}

type Validator struct {
	codes    CodeValidator
	registry registry.Repositories
	clock    func() time.Time
}

func NewValidator(codes CodeValidator, repos registry.Repositories, clock func() time.Time) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{codes: codes, registry: repos, clock: clock}
}

type checker struct {
	messages []stagingrecord.Message
}

func (c *checker) fail(field, code, text string) {
	c.messages = append(c.messages, stagingrecord.Message{
		Severity: stagingrecord.SeverityError, Field: field, Code: code, Text: text,
	})
}

func (c *checker) warn(field, code, text string) {
	c.messages = append(c.messages, stagingrecord.Message{
		Severity: stagingrecord.SeverityWarning, Field: field, Code: code, Text: text,
	})
}

func (c *checker) result() ValidationResult {
	out := ValidationResult{Outcome: stagingrecord.OutcomeValid, Messages: c.messages}
	for _, m := range c.messages {
		if m.Severity == stagingrecord.SeverityError {
			out.Outcome = stagingrecord.OutcomeInvalid
			return out
		}
		out.Outcome = stagingrecord.OutcomeWarning
	}
	if out.Messages == nil {
		out.Messages = []stagingrecord.Message{}
	}
	return out
}

// Validate checks one record. Only infrastructure failures are returned as
// errors; everything wrong with the data ends up in the result.
func (v *Validator) Validate(ctx context.Context, rec *stagingrecord.StagingRecord, batch *BatchIndex) (ValidationResult, error) {
	c := &checker{}
	var err error
	switch rec.EntityType {
	case stagingrecord.EntityPerson:
		err = v.validatePerson(rec, c)
	case stagingrecord.EntityPropertyUnit:
		err = v.validatePropertyUnit(rec, c)
	case stagingrecord.EntityRelation:
		err = v.validateRelation(ctx, rec, batch, c)
	case stagingrecord.EntityClaim:
		err = v.validateClaim(ctx, rec, batch, c)
	case stagingrecord.EntityEvidence:
		err = v.validateEvidence(ctx, rec, batch, c)
	default:
		c.fail("type", MsgUnknownEntityType, fmt.Sprintf("unknown entity type %q", rec.EntityType))
	}
	if err != nil {
		return ValidationResult{}, err
	}
	return c.result(), nil
}

func decodeInto[T any](rec *stagingrecord.StagingRecord, c *checker) (T, bool) {
	p, err := decodePayload[T](rec.Payload)
	if err != nil {
		c.fail("", MsgMalformedPayload, err.Error())
		return p, false
	}
	checkStruct(p, c)
	return p, true
}

// checkStruct runs the validate tags and reports failures under their JSON names.
func checkStruct(v any, c *checker) {
	err := constants.Validate.Struct(v)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.fail("", MsgMalformedPayload, err.Error())
		return
	}
	t := reflect.TypeOf(v)
	for _, fe := range fieldErrs {
		name := jsonName(t, fe.StructField())
		text := fmt.Sprintf("%s failed %q", name, fe.Tag())
		if fe.Param() != "" {
			text = fmt.Sprintf("%s failed %q (%s)", name, fe.Tag(), fe.Param())
		}
		c.fail(name, fe.Tag(), text)
	}
}

func jsonName(t reflect.Type, field string) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	f, ok := t.FieldByName(field)
	if !ok {
		return strings.ToLower(field)
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(field)
	}
	return name
}

func (v *Validator) checkCode(c *checker, field, domain, code string, required bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		if required {
			c.fail(field, "required", field+" is required")
		}
		return
	}
	if v.codes != nil && !v.codes.IsValidCode(domain, code) {
		c.fail(field, MsgInvalidCode, fmt.Sprintf("%q is not a known %s code", code, domain))
	}
}

func (v *Validator) checkNotFuture(c *checker, field string, d *Date) {
	if t := d.ptr(); t != nil && t.After(v.clock()) {
		c.fail(field, MsgFutureDate, field+" is in the future")
	}
}

func checkShare(c *checker, field string, share decimal.NullDecimal, required bool) {
	if !share.Valid {
		if required {
			c.fail(field, MsgMissingShare, field+" is required")
		}
		return
	}
	if !share.Decimal.IsPositive() || share.Decimal.GreaterThan(claim.FullShare) {
		c.fail(field, MsgShareOutOfRange, field+" must be within (0, 100]")
	}
}

func (v *Validator) validatePerson(rec *stagingrecord.StagingRecord, c *checker) error {
	p, ok := decodeInto[PersonPayload](rec, c)
	if !ok {
		return nil
	}
	v.checkCode(c, "gender", DomainGender, p.Gender, false)
	if strings.TrimSpace(p.NationalID) == "" {
		c.warn("national_id", MsgMissingNationalID, "national id is missing, matching relies on names")
	}
	if dob := p.DateOfBirth.ptr(); dob == nil {
		c.warn("date_of_birth", MsgMissingDateOfBirth, "date of birth is missing")
	} else {
		now := v.clock()
		switch {
		case dob.After(now):
			c.fail("date_of_birth", MsgFutureDate, "date of birth is in the future")
		case dob.Before(now.AddDate(-maxAgeYears, 0, 0)):
			c.fail("date_of_birth", MsgImplausibleAge, fmt.Sprintf("age exceeds %d years", maxAgeYears))
		}
	}
	if phone := person.NormalizePhone(p.Phone); phone != "" && len(strings.TrimPrefix(phone, "+")) < 7 {
		c.warn("phone", MsgShortPhone, "phone number looks truncated")
	}
	return nil
}

func (v *Validator) validatePropertyUnit(rec *stagingrecord.StagingRecord, c *checker) error {
	p, ok := decodeInto[PropertyUnitPayload](rec, c)
	if !ok {
		return nil
	}
	if code := strings.TrimSpace(p.BuildingCode); code != "" && !propertyunit.ValidBuildingCode(code) {
		c.fail("building_code", MsgInvalidBuildingCode,
			fmt.Sprintf("building code must be %d digits", propertyunit.BuildingCodeLength))
	}
	v.checkCode(c, "unit_type", DomainUnitType, p.UnitType, false)
	v.checkCode(c, "status", DomainUnitStatus, p.Status, false)
	switch {
	case !p.AreaSqm.Valid:
		c.warn("area_sqm", MsgMissingArea, "area is missing")
	case !p.AreaSqm.Decimal.IsPositive():
		c.fail("area_sqm", MsgNonPositiveArea, "area must be positive")
	}
	return nil
}

func (v *Validator) validateRelation(ctx context.Context, rec *stagingrecord.StagingRecord, batch *BatchIndex, c *checker) error {
	p, ok := decodeInto[RelationPayload](rec, c)
	if !ok {
		return nil
	}
	v.checkCode(c, "relation_type", DomainRelationType, p.RelationType, false)
	checkShare(c, "share", p.Share, false)
	v.checkNotFuture(c, "started_at", p.StartedAt)
	for _, ref := range p.references() {
		if err := v.checkReference(ctx, ref, batch, c); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateClaim(ctx context.Context, rec *stagingrecord.StagingRecord, batch *BatchIndex, c *checker) error {
	p, ok := decodeInto[ClaimPayload](rec, c)
	if !ok {
		return nil
	}
	v.checkCode(c, "claim_type", DomainClaimType, p.ClaimType, false)
	checkShare(c, "share", p.Share, true)
	v.checkNotFuture(c, "claimed_at", p.ClaimedAt)
	for _, ref := range p.references() {
		if err := v.checkReference(ctx, ref, batch, c); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateEvidence(ctx context.Context, rec *stagingrecord.StagingRecord, batch *BatchIndex, c *checker) error {
	p, ok := decodeInto[EvidencePayload](rec, c)
	if !ok {
		return nil
	}
	v.checkCode(c, "evidence_type", DomainEvidenceType, p.EvidenceType, false)
	if h := strings.TrimSpace(p.AttachmentHash); h != "" && (batch == nil || !batch.HasAttachment(h)) {
		c.fail("attachment_hash", MsgMissingAttachment, "attachment is not part of the package")
	}
	var owners []reference
	for _, ref := range p.references() {
		if ref.isSet() {
			owners = append(owners, ref)
		}
	}
	switch len(owners) {
	case 0:
		c.fail("claim_ref", MsgMissingOwner, "evidence must reference a claim, relation or person")
		return nil
	case 1:
	default:
		c.fail(owners[1].Field+"_ref", MsgMultipleOwners, "evidence must reference exactly one owner")
		return nil
	}
	return v.checkReference(ctx, owners[0], batch, c)
}

// checkReference resolves a parent pointer. Local references win over
// production ids when both are given.
func (v *Validator) checkReference(ctx context.Context, ref reference, batch *BatchIndex, c *checker) error {
	localField, idField := ref.Field+"_ref", ref.Field+"_id"
	local := strings.TrimSpace(ref.LocalRef)
	if local == "" && (ref.ProductID == nil || *ref.ProductID == uuid.Nil) {
		c.fail(localField, MsgMissingReference, fmt.Sprintf("%s or %s is required", localField, idField))
		return nil
	}
	if local != "" {
		if ref.ProductID != nil && *ref.ProductID != uuid.Nil {
			c.warn(idField, MsgAmbiguousReference, fmt.Sprintf("both %s and %s given, %s is used", localField, idField, localField))
		}
		var parent *stagingrecord.StagingRecord
		var found bool
		if batch != nil {
			parent, found = batch.Lookup(ref.EntityType, local)
		}
		if !found {
			c.fail(localField, MsgUnknownReference, fmt.Sprintf("no %s with local id %q in the package", ref.EntityType, local))
			return nil
		}
		if parent.Outcome == stagingrecord.OutcomeInvalid {
			c.fail(localField, MsgInvalidParent, fmt.Sprintf("referenced %s %q is invalid", ref.EntityType, local))
		}
		return nil
	}
	exists, err := v.productionExists(ctx, ref.EntityType, *ref.ProductID)
	if err != nil {
		return err
	}
	if !exists {
		c.fail(idField, MsgUnknownReference, fmt.Sprintf("%s %s does not exist", ref.EntityType, ref.ProductID))
	}
	return nil
}

func (v *Validator) productionExists(ctx context.Context, t stagingrecord.EntityType, id uuid.UUID) (bool, error) {
	var err error
	switch t {
	case stagingrecord.EntityPerson:
		_, err = v.registry.Persons.GetByID(ctx, id)
	case stagingrecord.EntityPropertyUnit:
		_, err = v.registry.PropertyUnits.GetByID(ctx, id)
	case stagingrecord.EntityClaim:
		_, err = v.registry.Claims.GetByID(ctx, id)
	default:
		return false, nil
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, person.ErrNotFound), errors.Is(err, propertyunit.ErrNotFound), errors.Is(err, claim.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup %s %s: %w", t, id, err)
	}
}
