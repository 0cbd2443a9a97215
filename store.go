package recordseal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goburrow/cache"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidelock/recordseal/pkg/log"
)

// probeKind is the reserved record kind used by Probe round trips. Reserved
// kinds (leading underscore) are excluded from listings and migration.
const probeKind = "_probe"

// Record is what callers see: the decoded plaintext record together with the
// authoritative cleartext meta fields. A record that could not be decoded is
// returned Degraded, carrying only the meta fields and the decode error, so
// the surrounding application can render it as failed rather than crash.
type Record struct {
	ID        string
	Kind      string
	CreatedAt int64
	UpdatedAt int64
	Fields    Fields
	Degraded  bool
	Err       error
}

// storedRecord is the shape the adapter writes to the record store: the
// envelope plus the meta fields duplicated outside it, in cleartext, so the
// store's indexing keeps working without decrypting rows. The adapter
// exclusively owns this shape.
type storedRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	UpdatedAt int64     `json:"updatedAt"`
	Envelope  *Envelope `json:"envelope"`
}

// StoredShape labels the storage generation a raw stored value belongs to.
type StoredShape string

const (
	// ShapeCurrent is a stored record of the current generation.
	ShapeCurrent StoredShape = "current"
	// ShapePlainDoc is a bare document predating envelope storage.
	ShapePlainDoc StoredShape = "legacy-plain"
	// ShapeLegacySealed carries inline nonce/ciphertext without a version
	// tag, predating the meta/payload split.
	ShapeLegacySealed StoredShape = "legacy-sealed"
	// ShapeUnknown is anything else.
	ShapeUnknown StoredShape = "unknown"
)

// ClassifyValue detects which storage generation value belongs to.
func ClassifyValue(value []byte) StoredShape {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(value, &probe); err != nil {
		return ShapeUnknown
	}

	if _, ok := probe["envelope"]; ok {
		return ShapeCurrent
	}

	_, hasNonce := probe["nonce"]
	_, hasCiphertext := probe["ciphertext"]
	_, hasVersion := probe["version"]

	if hasNonce && hasCiphertext && !hasVersion {
		return ShapeLegacySealed
	}

	return ShapePlainDoc
}

// Store intercepts the record-store lifecycle operations, sealing records on
// the way in and unsealing them on the way out. Callers never see the stored
// shape; the underlying RecordStore never sees plaintext payloads in
// encrypted modes.
type Store struct {
	rs       RecordStore
	codec    *Codec
	decoded  cache.Cache
	defaults map[string]Fields
	now      func() time.Time
}

// StoreOption is used to configure additional options in a Store.
type StoreOption func(*Store)

// WithDefaults registers read-time defaults for a record kind. A default is
// applied only when the field is absent; a present-but-falsy value, such as
// an explicit empty string, is never replaced.
func WithDefaults(kind string, defaults Fields) StoreOption {
	return func(s *Store) {
		s.defaults[kind] = defaults.clone()
	}
}

// WithStoreClock overrides the store's time source.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// defaultCacheSize bounds the decoded-record read cache.
const defaultCacheSize = 512

// NewStore returns a Store wrapping rs with the given codec. Reads are served
// through a bounded decoded-record cache which is invalidated on every write.
func NewStore(rs RecordStore, codec *Codec, opts ...StoreOption) *Store {
	s := &Store{
		rs:    rs,
		codec: codec,
		decoded: cache.New(
			cache.WithMaximumSize(defaultCacheSize),
			cache.WithExpireAfterWrite(5*time.Minute),
		),
		defaults: make(map[string]Fields),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Mode returns the active operating mode, for layers enforcing deployment
// policy (e.g. blocking plain mode outside loopback contexts).
func (s *Store) Mode() Mode {
	return s.codec.Mode()
}

// Close releases the decoded-record cache. It does not close the underlying
// record store or the session.
func (s *Store) Close() error {
	return s.decoded.Close()
}

// Create encodes the full plaintext record and persists it. The meta fields
// are carried both inside the envelope (diagnostics) and outside it
// (indexing). A missing ID is assigned. Returns the record's ID.
//
// A failed encode propagates; nothing is written in that case.
func (s *Store) Create(ctx context.Context, kind string, fields Fields) (string, error) {
	if kind == "" {
		return "", errors.New("record kind is required")
	}

	fields = fields.clone()

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now().UnixMilli()
	if _, ok := fields["createdAt"]; !ok {
		fields["createdAt"] = now
	}

	if err := s.write(ctx, kind, id, fields, now); err != nil {
		return "", err
	}

	return id, nil
}

// Update re-encodes the entire new record and replaces the stored envelope
// wholesale; field-level patching of ciphertext is not possible. The original
// creation timestamp is preserved from the previously stored record and a new
// update timestamp is stamped.
func (s *Store) Update(ctx context.Context, kind, id string, fields Fields) error {
	if id == "" {
		return errors.New("record id is required")
	}

	fields = fields.clone()

	// Carry forward the original creation timestamp when the existing record
	// is still readable. If it is not, the caller's value (or the current
	// time) stands in; the update itself must not fail on a degraded row.
	if existing, err := s.Get(ctx, kind, id); err == nil && existing != nil && !existing.Degraded {
		if created, ok := existing.Fields["createdAt"]; ok {
			fields["createdAt"] = created
		}
	}

	now := s.now().UnixMilli()
	if _, ok := fields["createdAt"]; !ok {
		fields["createdAt"] = now
	}

	return s.write(ctx, kind, id, fields, now)
}

// write encodes and persists one record, then invalidates its cache entry.
func (s *Store) write(ctx context.Context, kind, id string, fields Fields, updatedAt int64) error {
	value, err := sealRecordValue(s.codec, kind, id, fields, updatedAt)
	if err != nil {
		return errors.Wrapf(err, "encoding record %s/%s", kind, id)
	}

	if err := s.rs.Put(ctx, kind, id, value); err != nil {
		return errors.Wrapf(err, "storing record %s/%s", kind, id)
	}

	s.decoded.Invalidate(cacheKey(kind, id))

	return nil
}

// Get loads and decodes one record. A missing record returns (nil, nil). A
// record that fails to decode is returned Degraded rather than propagating
// the decode error through the read path.
func (s *Store) Get(ctx context.Context, kind, id string) (*Record, error) {
	if v, ok := s.decoded.GetIfPresent(cacheKey(kind, id)); ok {
		rec := v.(*Record)

		return rec.copy(), nil
	}

	value, err := s.rs.Get(ctx, kind, id)
	if err != nil {
		return nil, errors.Wrapf(err, "loading record %s/%s", kind, id)
	}

	if value == nil {
		return nil, nil
	}

	rec := s.readValue(kind, id, value)

	if !rec.Degraded {
		s.decoded.Put(cacheKey(kind, id), rec.copy())
	}

	return rec, nil
}

// List decodes every record of the given kind, degraded rows included.
func (s *Store) List(ctx context.Context, kind string) ([]*Record, error) {
	var out []*Record

	err := s.rs.ForEach(ctx, kind, func(id string, value []byte) error {
		out = append(out, s.readValue(kind, id, value))

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing records of kind %s", kind)
	}

	return out, nil
}

// Delete removes a record and its cache entry.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	if err := s.rs.Delete(ctx, kind, id); err != nil {
		return errors.Wrapf(err, "deleting record %s/%s", kind, id)
	}

	s.decoded.Invalidate(cacheKey(kind, id))

	return nil
}

// probeID names the persistent canary record Probe decodes.
const probeID = "canary"

// Probe verifies the active key against stored data at the login boundary. A
// persistent canary record sealed under the current mode is decoded; a wrong
// passphrase surfaces here as ErrDecryptAuthFailed instead of as corrupted
// application data later. The first probe under a mode seeds the canary with
// a write-read round trip; a canary left over from a different mode is
// replaced, since reserved kinds are excluded from migration.
func (s *Store) Probe(ctx context.Context) error {
	value, err := s.rs.Get(ctx, probeKind, probeID)
	if err != nil {
		return errors.Wrap(err, "probe read")
	}

	if value != nil {
		var sr storedRecord
		if json.Unmarshal(value, &sr) == nil && sr.Envelope != nil && sr.Envelope.Mode == s.codec.Mode() {
			if _, err := s.codec.Decode(sr.Envelope); err != nil {
				return errors.Wrap(err, "probe decode")
			}

			return nil
		}

		log.Debugf("replacing probe canary from a previous mode")
	}

	token := uuid.NewString()

	if _, err := s.Create(ctx, probeKind, Fields{"id": probeID, "token": token}); err != nil {
		return errors.Wrap(err, "probe write")
	}

	rec, err := s.Get(ctx, probeKind, probeID)
	if err != nil {
		return errors.Wrap(err, "probe read")
	}

	if rec == nil {
		return errors.New("probe record missing after write")
	}

	if rec.Degraded {
		return errors.Wrap(rec.Err, "probe decode")
	}

	if got, _ := rec.Fields["token"].(string); got != token {
		return errors.New("probe round trip mismatch")
	}

	return nil
}

// readValue turns one raw stored value into a Record, applying the read-time
// rules: decode, meta-over-payload merge, normalization, and local recovery
// into a degraded record when decoding fails.
func (s *Store) readValue(kind, id string, value []byte) *Record {
	switch ClassifyValue(value) {
	case ShapeCurrent:
		return s.readCurrent(kind, id, value)
	case ShapePlainDoc:
		return s.readPlainDoc(kind, id, value)
	default:
		// Legacy sealed rows need RepairSplitMeta before they can be read.
		return s.degraded(kind, id, 0, errors.Wrap(ErrMalformedEnvelope, "record predates envelope format"))
	}
}

func (s *Store) readCurrent(kind, id string, value []byte) *Record {
	var sr storedRecord
	if err := json.Unmarshal(value, &sr); err != nil {
		return s.degraded(kind, id, 0, errors.Wrap(ErrMalformedEnvelope, err.Error()))
	}

	if sr.ID == "" {
		sr.ID = id
	}

	if sr.Kind == "" {
		sr.Kind = kind
	}

	fields, err := s.codec.Decode(sr.Envelope)
	if err != nil {
		log.Debugf("decode failed for %s/%s: %v", kind, id, err)

		return s.degraded(sr.Kind, sr.ID, sr.UpdatedAt, err)
	}

	// Merge precedence: decoded payload is the base, but the cleartext meta
	// fields stored alongside the envelope always win over any stale copy
	// inside the payload. The index-bearing fields stay authoritative even
	// if the decoded payload diverges.
	fields["id"] = sr.ID
	fields["kind"] = sr.Kind
	fields["updatedAt"] = sr.UpdatedAt

	s.normalize(sr.Kind, fields)

	createdAt, _ := asInt64(fields["createdAt"])

	return &Record{
		ID:        sr.ID,
		Kind:      sr.Kind,
		CreatedAt: createdAt,
		UpdatedAt: sr.UpdatedAt,
		Fields:    fields,
	}
}

// readPlainDoc handles bare documents predating envelope storage. They decode
// without a key and are rewritten on the next write or migration pass.
func (s *Store) readPlainDoc(kind, id string, value []byte) *Record {
	fields, err := unmarshalFields(value)
	if err != nil {
		return s.degraded(kind, id, 0, err)
	}

	var updatedAt int64
	if v, ok := asInt64(fields["updatedAt"]); ok {
		updatedAt = v
	}

	fields["id"] = id
	fields["kind"] = kind

	s.normalize(kind, fields)

	createdAt, _ := asInt64(fields["createdAt"])

	return &Record{
		ID:        id,
		Kind:      kind,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Fields:    fields,
	}
}

// degraded builds the meta-only record returned when decoding fails.
func (s *Store) degraded(kind, id string, updatedAt int64, err error) *Record {
	return &Record{
		ID:        id,
		Kind:      kind,
		UpdatedAt: updatedAt,
		Fields: Fields{
			"id":        id,
			"kind":      kind,
			"updatedAt": updatedAt,
		},
		Degraded: true,
		Err:      err,
	}
}

// normalize fills structurally-required-but-absent fields with the safe
// defaults registered for the kind. A field that is present is never
// overwritten, even when falsy.
func (s *Store) normalize(kind string, fields Fields) {
	for k, v := range s.defaults[kind] {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
}

func (r *Record) copy() *Record {
	cp := *r
	cp.Fields = r.Fields.clone()

	return &cp
}

func cacheKey(kind, id string) string {
	return kind + "/" + id
}

// asInt64 converts the numeric representations JSON decoding may produce.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()

		return i, err == nil
	}

	return 0, false
}
