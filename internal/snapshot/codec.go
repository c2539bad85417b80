package snapshot

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maaaruch/gather-bot/internal/domain"
)

//go:embed schema/*.schema.json
var embeddedSchemas embed.FS

const (
	LocatorScheme = "https"
	PollHost      = "gather.poll"
	EventHost     = "gather.event"
	DataParam     = "data"
)

var (
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnrecognizedShape = errors.New("unrecognized snapshot shape")
)

// Snapshot is one decoded aggregate. Exactly one of Poll or Event is set,
// according to Kind.
type Snapshot struct {
	Kind        domain.Kind
	Poll        domain.Poll
	Event       domain.Event
	Fingerprint string
}

func (s Snapshot) Aggregate() domain.Aggregate {
	if s.Kind == domain.KindEvent {
		return s.Event
	}
	return s.Poll
}

// Codec turns aggregates into locator payloads and back. It holds only
// compiled schemas and is safe for concurrent use.
type Codec struct {
	schemas map[domain.Kind]*jsonschema.Schema
}

func NewCodec() (*Codec, error) {
	c := &Codec{schemas: make(map[domain.Kind]*jsonschema.Schema)}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for _, kind := range []domain.Kind{domain.KindPoll, domain.KindEvent} {
		name := fmt.Sprintf("schema/%s.schema.json", kind)
		raw, err := embeddedSchemas.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", kind, err)
		}
		schemaURL := fmt.Sprintf("https://gather.schemas.local/%s.schema.json", kind)
		if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load %s schema: %w", kind, err)
		}
		compiled, err := compiler.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		c.schemas[kind] = compiled
	}
	return c, nil
}

// Encode serializes agg to canonical JSON and wraps it in the locator for its
// kind. Equal aggregates always produce identical payloads.
func (c *Codec) Encode(agg domain.Aggregate) (string, error) {
	var host string
	switch agg.Kind() {
	case domain.KindPoll:
		host = PollHost
	case domain.KindEvent:
		host = EventHost
	default:
		return "", fmt.Errorf("encode: unknown aggregate kind %q", agg.Kind())
	}

	raw, err := json.Marshal(agg)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", agg.Kind(), err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", agg.Kind(), err)
	}

	u := url.URL{
		Scheme:   LocatorScheme,
		Host:     host,
		RawQuery: url.Values{DataParam: {base64.StdEncoding.EncodeToString(canonical)}}.Encode(),
	}
	return u.String(), nil
}

// Decode accepts a full locator or a bare base64 body. The locator host, when
// present, decides the kind; otherwise the body is matched against the poll
// schema and then the event schema.
func (c *Codec) Decode(payload string) (Snapshot, error) {
	hint, encoded, err := unwrap(strings.TrimSpace(payload))
	if err != nil {
		return Snapshot{}, err
	}

	body, err := decodeBase64(encoded)
	if err != nil {
		return Snapshot{}, err
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Snapshot{}, fmt.Errorf("%w: trailing data after json value", ErrMalformedPayload)
	}

	kind := hint
	if kind == "" {
		kind, err = c.detect(doc)
		if err != nil {
			return Snapshot{}, err
		}
	} else if err := c.schemas[kind].Validate(doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: not a %s: %v", ErrUnrecognizedShape, kind, err)
	}

	snap := Snapshot{Kind: kind, Fingerprint: fingerprint(body)}
	switch kind {
	case domain.KindPoll:
		err = json.Unmarshal(body, &snap.Poll)
	case domain.KindEvent:
		err = json.Unmarshal(body, &snap.Event)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s fields: %v", ErrUnrecognizedShape, kind, err)
	}
	return snap, nil
}

// detect matches doc structurally. A document valid under both schemas is
// ambiguous and rejected rather than guessed.
func (c *Codec) detect(doc interface{}) (domain.Kind, error) {
	isPoll := c.schemas[domain.KindPoll].Validate(doc) == nil
	isEvent := c.schemas[domain.KindEvent].Validate(doc) == nil

	switch {
	case isPoll && isEvent:
		return "", fmt.Errorf("%w: payload matches both poll and event", ErrUnrecognizedShape)
	case isPoll:
		return domain.KindPoll, nil
	case isEvent:
		return domain.KindEvent, nil
	}
	return "", fmt.Errorf("%w: payload matches neither poll nor event", ErrUnrecognizedShape)
}

func unwrap(payload string) (domain.Kind, string, error) {
	if payload == "" {
		return "", "", fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if !strings.Contains(payload, "://") {
		return "", payload, nil
	}

	u, err := url.Parse(payload)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var kind domain.Kind
	switch strings.ToLower(u.Host) {
	case PollHost:
		kind = domain.KindPoll
	case EventHost:
		kind = domain.KindEvent
	default:
		return "", "", fmt.Errorf("%w: unknown locator host %q", ErrUnrecognizedShape, u.Host)
	}

	data := u.Query().Get(DataParam)
	if data == "" {
		return "", "", fmt.Errorf("%w: missing %q parameter", ErrMalformedPayload, DataParam)
	}
	return kind, data, nil
}

// decodeBase64 tolerates '+' turned into ' ' by form decoding and the
// unpadded or URL-safe alphabets some hosts produce.
func decodeBase64(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "+")
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, firstErr)
}

// fingerprint identifies a body by its canonical content, so the same
// snapshot redelivered under a different encoding logs the same value.
func fingerprint(body []byte) string {
	if canonical, err := jcs.Transform(body); err == nil {
		body = canonical
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}
