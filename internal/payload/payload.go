// Package payload encodes and decodes the identity payload embedded in QR codes.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"entrytracker/internal/model"
)

// Payload is the identity carried by a scannable code.
type Payload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollmentNo,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Snapshot converts the payload into the person snapshot stored on an Entry.
func (p Payload) Snapshot() *model.PersonSnapshot {
	return &model.PersonSnapshot{ID: p.ID, Name: p.Name, EnrollmentNo: p.EnrollmentNo}
}

// DecodeErrorKind classifies a rejected payload.
type DecodeErrorKind string

const (
	MalformedJSON DecodeErrorKind = "malformed_json"
	SchemaInvalid DecodeErrorKind = "schema_invalid"
)

// DecodeError is returned for any payload that cannot be accepted.
type DecodeError struct {
	Kind   DecodeErrorKind
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return "decode payload: " + string(e.Kind)
	}
	return fmt.Sprintf("decode payload: %s: %s", e.Kind, e.Reason)
}

// Is lets errors.Is match on kind alone.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMalformedJSON = &DecodeError{Kind: MalformedJSON}
	ErrSchemaInvalid = &DecodeError{Kind: SchemaInvalid}
)

// Encode builds the payload for a person and serializes it as UTF-8 JSON.
func Encode(p model.Person, now time.Time) (Payload, string, error) {
	pl := Payload{
		ID:           p.ID,
		Name:         p.Name,
		EnrollmentNo: p.EnrollmentNo,
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(pl)
	if err != nil {
		return Payload{}, "", fmt.Errorf("encode payload: %w", err)
	}
	return pl, string(b), nil
}

// Decode parses scanned text. Unknown fields are ignored; id and name are required.
func Decode(raw string) (p Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = Payload{}, &DecodeError{Kind: MalformedJSON, Reason: fmt.Sprint(r)}
		}
	}()

	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, &DecodeError{Kind: MalformedJSON, Reason: "not a json object"}
	}

	// Decode loosely first so a wrongly typed field is a schema problem, not a syntax one.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, &DecodeError{Kind: MalformedJSON, Reason: err.Error()}
	}

	id, ok := stringField(fields, "id")
	if !ok {
		return Payload{}, &DecodeError{Kind: SchemaInvalid, Reason: "missing id"}
	}
	name, ok := stringField(fields, "name")
	if !ok {
		return Payload{}, &DecodeError{Kind: SchemaInvalid, Reason: "missing name"}
	}
	enrollment, _ := stringField(fields, "enrollmentNo")
	ts, _ := stringField(fields, "timestamp")

	return Payload{ID: id, Name: name, EnrollmentNo: enrollment, Timestamp: ts}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
