// Package device implements the device-deduplication decision: it extracts request
// signals, matches them against the stored device table, and decides whether the
// visitor is a new device, a returning device, or a returning device that cleared
// its local storage.
package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformedTable is returned when a stored document is not a device table.
var ErrMalformedTable = errors.New("malformed device table")

// Record is one known device.
type Record struct {
	DeviceID          string `json:"device_id"`
	FirstSeen         string `json:"first_seen"`
	LastSeen          string `json:"last_seen"`
	IPAddress         string `json:"ip_address"`
	UserAgent         string `json:"user_agent"`
	VerificationCount int    `json:"verification_count"`

	// src is set for records read from a document. It is shared between clones
	// and never modified.
	src *recordSource
}

// recordSource is a record as it was stored.
type recordSource struct {
	raw    []byte
	object bool
	seen   Record
}

// UnmarshalJSON decodes a stored record leniently. Known fields are coerced
// from whatever JSON type they hold, a missing verification_count reads as 1,
// and the original JSON is kept so that fields this package does not know, or
// cannot interpret, are written back unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid record JSON", ErrMalformedTable)
	}

	doc := gjson.ParseBytes(data)
	decoded := Record{VerificationCount: 1}
	if doc.IsObject() {
		decoded.DeviceID = doc.Get("device_id").String()
		decoded.FirstSeen = doc.Get("first_seen").String()
		decoded.LastSeen = doc.Get("last_seen").String()
		decoded.IPAddress = doc.Get("ip_address").String()
		decoded.UserAgent = doc.Get("user_agent").String()
		if count := doc.Get("verification_count"); count.Exists() && count.Type != gjson.Null {
			decoded.VerificationCount = int(count.Int())
		}
	}

	seen := decoded
	decoded.src = &recordSource{
		raw:    append([]byte(nil), data...),
		object: doc.IsObject(),
		seen:   seen,
	}
	*r = decoded
	return nil
}

// MarshalJSON encodes the record. A record read from a document is written as
// its stored JSON with only the changed fields replaced.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	if r.src == nil {
		return json.Marshal(plain(r))
	}

	seen := r.src.seen
	changes := []struct {
		key     string
		changed bool
		value   any
	}{
		{"device_id", r.DeviceID != seen.DeviceID, r.DeviceID},
		{"first_seen", r.FirstSeen != seen.FirstSeen, r.FirstSeen},
		{"last_seen", r.LastSeen != seen.LastSeen, r.LastSeen},
		{"ip_address", r.IPAddress != seen.IPAddress, r.IPAddress},
		{"user_agent", r.UserAgent != seen.UserAgent, r.UserAgent},
		{"verification_count", r.VerificationCount != seen.VerificationCount, r.VerificationCount},
	}

	out := append([]byte(nil), r.src.raw...)
	dirty := false
	for _, c := range changes {
		if !c.changed {
			continue
		}
		if !r.src.object {
			fresh := r
			fresh.src = nil
			return json.Marshal(plain(fresh))
		}
		var err error
		if out, err = sjson.SetBytes(out, c.key, c.value); err != nil {
			return nil, fmt.Errorf("updating %s: %w", c.key, err)
		}
		dirty = true
	}
	if !dirty {
		return r.src.raw, nil
	}
	return out, nil
}

// Fingerprint returns the record's stored IP + user-agent key.
func (r *Record) Fingerprint() string {
	return Fingerprint(r.IPAddress, r.UserAgent)
}

// Fingerprint builds the identity key used when no device id is presented.
func Fingerprint(ip, userAgent string) string {
	return ip + " | " + userAgent
}

// Table maps device ids to records and remembers insertion order, which is also
// the order of keys in the stored JSON document.
type Table struct {
	order   []string
	records map[string]*Record
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]*Record)}
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.order)
}

// Has reports whether id is a key of the table.
func (t *Table) Has(id string) bool {
	_, ok := t.records[id]
	return ok
}

// Get returns the record stored under id. The returned record is owned by the
// table; mutating it mutates the table.
func (t *Table) Get(id string) (*Record, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

// Put stores rec under id. Replacing an existing id keeps its position.
func (t *Table) Put(id string, rec *Record) {
	if t.records == nil {
		t.records = make(map[string]*Record)
	}
	if _, ok := t.records[id]; !ok {
		t.order = append(t.order, id)
	}
	t.records[id] = rec
}

// Each calls fn for every record in table order until fn returns false.
func (t *Table) Each(fn func(id string, rec *Record) bool) {
	for _, id := range t.order {
		if !fn(id, t.records[id]) {
			return
		}
	}
}

// IDs returns the device ids in table order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.order))
	copy(ids, t.order)
	return ids
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	clone := &Table{
		order:   make([]string, len(t.order)),
		records: make(map[string]*Record, len(t.records)),
	}
	copy(clone.order, t.order)
	for id, rec := range t.records {
		dup := *rec
		clone.records[id] = &dup
	}
	return clone
}

// MarshalJSON encodes the table as one JSON object with keys in table order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range t.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(t.records[id])
		if err != nil {
			return nil, fmt.Errorf("encoding device %q: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of records, keeping document key order.
// A JSON null decodes to an empty table. Entries that are not well-formed
// records are kept as they are and written back unchanged.
func (t *Table) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid JSON", ErrMalformedTable)
	}

	doc := gjson.ParseBytes(data)
	decoded := NewTable()

	switch {
	case doc.Type == gjson.Null:
	case !doc.IsObject():
		return fmt.Errorf("%w: expected object, got %s", ErrMalformedTable, doc.Type)
	default:
		var decodeErr error
		doc.ForEach(func(key, value gjson.Result) bool {
			rec := &Record{}
			if err := rec.UnmarshalJSON([]byte(value.Raw)); err != nil {
				decodeErr = fmt.Errorf("device %q: %w", key.String(), err)
				return false
			}
			decoded.Put(key.String(), rec)
			return true
		})
		if decodeErr != nil {
			return decodeErr
		}
	}

	*t = *decoded
	return nil
}
