// Package packagecodec decodes offline field packages and checks their integrity.
package packagecodec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var (
	ErrMalformed = errors.New("malformed package")
	ErrIntegrity = errors.New("package integrity check failed")
)

// IntegrityError describes why a well-formed package cannot be trusted.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "package integrity check failed: " + e.Reason
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

type Manifest struct {
	PackageID     string         `json:"package_id" cbor:"package_id"`
	SchemaVersion string         `json:"schema_version" cbor:"schema_version"`
	DeviceID      string         `json:"device_id" cbor:"device_id"`
	CollectorID   string         `json:"collector_id" cbor:"collector_id"`
	CreatedAt     time.Time      `json:"created_at" cbor:"created_at"`
	EntityCounts  map[string]int `json:"entity_counts" cbor:"entity_counts"`
	ContentHash   string         `json:"content_hash" cbor:"content_hash"`
}

type Entity struct {
	LocalID string          `json:"local_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Attachment struct {
	FileName    string `json:"file_name" cbor:"file_name"`
	ContentHash string `json:"content_hash" cbor:"content_hash"`
	Data        []byte `json:"data" cbor:"data"`
}

type Envelope struct {
	Manifest    Manifest     `json:"manifest"`
	Entities    []Entity     `json:"entities"`
	Attachments []Attachment `json:"attachments"`
}

// cborEntity carries the payload as a generic value; it is re-encoded as JSON after decoding.
type cborEntity struct {
	LocalID string `cbor:"local_id"`
	Type    string `cbor:"type"`
	Payload any    `cbor:"payload"`
}

type cborEnvelope struct {
	Manifest    Manifest     `cbor:"manifest"`
	Entities    []cborEntity `cbor:"entities"`
	Attachments []Attachment `cbor:"attachments"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("packagecodec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("packagecodec: CBOR decoder initialization failed: " + err.Error())
	}
}

// DetectFormat treats anything that starts with a JSON object as JSON and the rest as CBOR.
func DetectFormat(raw []byte) Format {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatCBOR
}

func Decode(raw []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	var env *Envelope
	var err error
	switch DetectFormat(raw) {
	case FormatJSON:
		env, err = decodeJSON(raw)
	default:
		env, err = decodeCBOR(raw)
	}
	if err != nil {
		return nil, err
	}
	if err := checkShape(env); err != nil {
		return nil, err
	}
	return env, nil
}

func decodeJSON(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

func decodeCBOR(raw []byte) (*Envelope, error) {
	var wire cborEnvelope
	if err := decMode.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := &Envelope{
		Manifest:    wire.Manifest,
		Entities:    make([]Entity, 0, len(wire.Entities)),
		Attachments: wire.Attachments,
	}
	for i, e := range wire.Entities {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %d payload: %v", ErrMalformed, i, err)
		}
		env.Entities = append(env.Entities, Entity{LocalID: e.LocalID, Type: e.Type, Payload: payload})
	}
	return env, nil
}

func checkShape(env *Envelope) error {
	if strings.TrimSpace(env.Manifest.PackageID) == "" {
		return fmt.Errorf("%w: manifest.package_id is required", ErrMalformed)
	}
	seen := make(map[string]struct{}, len(env.Entities))
	for i, e := range env.Entities {
		if strings.TrimSpace(e.LocalID) == "" || strings.TrimSpace(e.Type) == "" {
			return fmt.Errorf("%w: entity %d needs local_id and type", ErrMalformed, i)
		}
		payload := bytes.TrimSpace(e.Payload)
		if len(payload) == 0 || payload[0] != '{' {
			return fmt.Errorf("%w: entity %s/%s payload must be an object", ErrMalformed, e.Type, e.LocalID)
		}
		key := e.Type + ":" + e.LocalID
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate entity %s", ErrMalformed, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes the entities in their canonical JSON form: fields in fixed
// order and payload object keys sorted.
func ContentHash(entities []Entity) (string, error) {
	type canonical struct {
		LocalID string `json:"local_id"`
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}
	out := make([]canonical, len(entities))
	for i, e := range entities {
		dec := json.NewDecoder(bytes.NewReader(e.Payload))
		dec.UseNumber()
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return "", fmt.Errorf("%w: entity %s/%s payload: %v", ErrMalformed, e.Type, e.LocalID, err)
		}
		out[i] = canonical{LocalID: e.LocalID, Type: e.Type, Payload: payload}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// CountByType tallies entities per declared type.
func CountByType(entities []Entity) map[string]int {
	counts := make(map[string]int)
	for _, e := range entities {
		counts[e.Type]++
	}
	return counts
}

// Verify checks the manifest content hash, every attachment hash and the declared entity counts.
func Verify(env *Envelope) error {
	hash, err := ContentHash(env.Entities)
	if err != nil {
		return err
	}
	if !strings.EqualFold(hash, strings.TrimSpace(env.Manifest.ContentHash)) {
		return &IntegrityError{Reason: "manifest content hash does not match entities"}
	}
	for _, a := range env.Attachments {
		if !strings.EqualFold(HashBytes(a.Data), strings.TrimSpace(a.ContentHash)) {
			return &IntegrityError{Reason: fmt.Sprintf("attachment %q content hash mismatch", a.FileName)}
		}
	}
	actual := CountByType(env.Entities)
	declared := make(map[string]int, len(env.Manifest.EntityCounts))
	for t, n := range env.Manifest.EntityCounts {
		if n != 0 {
			declared[t] = n
		}
	}
	if !reflect.DeepEqual(actual, declared) {
		return &IntegrityError{Reason: fmt.Sprintf("entity counts %s do not match manifest %s", formatCounts(actual), formatCounts(declared))}
	}
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Seal fills in the manifest content hash, entity counts and attachment hashes.
func Seal(env *Envelope) error {
	hash, err := ContentHash(env.Entities)
	if err != nil {
		return err
	}
	env.Manifest.ContentHash = hash
	env.Manifest.EntityCounts = CountByType(env.Entities)
	for i := range env.Attachments {
		env.Attachments[i].ContentHash = HashBytes(env.Attachments[i].Data)
	}
	return nil
}

func Encode(env *Envelope, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(env)
	}
	wire := cborEnvelope{
		Manifest:    env.Manifest,
		Entities:    make([]cborEntity, len(env.Entities)),
		Attachments: env.Attachments,
	}
	for i, e := range env.Entities {
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return nil, fmt.Errorf("entity %s/%s payload: %w", e.Type, e.LocalID, err)
		}
		wire.Entities[i] = cborEntity{LocalID: e.LocalID, Type: e.Type, Payload: payload}
	}
	return encMode.Marshal(wire)
}
