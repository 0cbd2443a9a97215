package recordseal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/tidelock/recordseal/internal"
)

// Codec metrics
var (
	encodeTimer = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.codec.encode", MetricsPrefix), nil)
	decodeTimer = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.codec.decode", MetricsPrefix), nil)
)

// Fields is a decoded plaintext record: a schemaless JSON document.
type Fields map[string]interface{}

// clone returns a one-level copy of f.
func (f Fields) clone() Fields {
	cp := make(Fields, len(f))
	for k, v := range f {
		cp[k] = v
	}

	return cp
}

// Codec is the only component that touches raw ciphertext. It turns plaintext
// records into envelopes and back under the mode its session was opened with.
type Codec struct {
	session *Session
	crypto  AEAD
	now     func() time.Time
}

// CodecOption is used to configure additional options in a Codec.
type CodecOption func(*Codec)

// WithClock overrides the codec's time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// WithMetrics enables or disables the codec and migration timers. Metrics are
// enabled by default; disabling removes them from the default registry so
// nothing is published.
func WithMetrics(enabled bool) CodecOption {
	return func(c *Codec) {
		if !enabled {
			metrics.DefaultRegistry.UnregisterAll()
		}
	}
}

// NewCodec returns a Codec bound to the given session and cipher.
func NewCodec(session *Session, crypto AEAD, opts ...CodecOption) *Codec {
	c := &Codec{
		session: session,
		crypto:  crypto,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Mode returns the operating mode of the codec's session.
func (c *Codec) Mode() Mode {
	return c.session.Mode()
}

// Encode serializes fields and assembles a fresh envelope for them. In
// encrypted modes a new random nonce is generated on every call, so two
// encodings of identical plaintext never produce identical ciphertext. In
// plain mode the serialized record is carried in cleartext, still wrapped as
// a versioned envelope for format uniformity.
//
// Encode has no side effects beyond the returned structure; persisting the
// envelope is the store adapter's job.
func (c *Codec) Encode(fields Fields, meta *Meta) (*Envelope, error) {
	defer encodeTimer.UpdateSince(time.Now())

	if fields == nil {
		fields = Fields{}
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "serializing record")
	}

	env := &Envelope{
		Version:   EnvelopeVersion,
		Mode:      c.session.Mode(),
		Algorithm: AlgAES256GCM,
		Timestamp: c.now().UnixMilli(),
	}

	if meta != nil {
		m := *meta
		env.Meta = &m
	}

	if !env.Mode.Encrypted() {
		env.Payload = payload

		return env, nil
	}

	err = c.session.withKey(func(keyBytes []byte) error {
		nonce, ciphertext, encErr := c.crypto.Encrypt(payload, keyBytes)
		if encErr != nil {
			return encErr
		}

		env.Nonce = nonce
		env.Ciphertext = ciphertext

		return nil
	})

	internal.MemClr(payload)

	if err != nil {
		return nil, err
	}

	if env.Mode == ModeProdEnc {
		env.KDF = c.session.kdfWireParams()
	}

	return env, nil
}

// Decode validates env, then recovers the plaintext record from it. It never
// returns partially decrypted or best-effort data: a failed authentication
// surfaces as ErrDecryptAuthFailed with no plaintext. Decoding a plain
// envelope requires no key and works on a locked session.
func (c *Codec) Decode(env *Envelope) (Fields, error) {
	defer decodeTimer.UpdateSince(time.Now())

	if err := env.Validate(); err != nil {
		return nil, err
	}

	if !env.Sealed() {
		return unmarshalFields(env.Payload)
	}

	var plaintext []byte

	err := c.session.withKey(func(keyBytes []byte) error {
		var decErr error
		plaintext, decErr = c.crypto.Decrypt(env.Nonce, env.Ciphertext, keyBytes)

		return decErr
	})
	if err != nil {
		return nil, err
	}

	defer internal.MemClr(plaintext)

	return unmarshalFields(plaintext)
}

func unmarshalFields(payload []byte) (Fields, error) {
	var fields Fields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}

	if fields == nil {
		fields = Fields{}
	}

	return fields, nil
}
