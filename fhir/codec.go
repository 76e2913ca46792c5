package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/vitalrelay"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ackNamespace        = uuid.NewSHA1(uuid.NameSpaceURL, []byte("http://nchs.cdc.gov/acknowledgement"))
	extractionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("http://nchs.cdc.gov/extraction_error"))
)

// Config defines codec behavior.
type Config struct {
	// Source is the jurisdiction endpoint stamped on messages built by the codec.
	Source string
	Clock  vitalrelay.Clock
	// NewID generates ids for new outbound messages.
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = vitalrelay.SystemClock{}
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}

	return c
}

// Option configures the codec.
type Option func(*Config)

// WithSource sets the jurisdiction endpoint stamped as message source.
func WithSource(endpoint string) Option {
	return func(c *Config) {
		c.Source = endpoint
	}
}

// WithClock sets the clock used for bundle timestamps.
func WithClock(clock vitalrelay.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithIDGenerator sets the id generator for new outbound messages.
func WithIDGenerator(fn func() string) Option {
	return func(c *Config) {
		c.NewID = fn
	}
}

// Codec implements vitalrelay.Codec for FHIR message bundles.
type Codec struct {
	cfg Config
}

var _ vitalrelay.Codec = (*Codec)(nil)

// New constructs a codec.
func New(opts ...Option) *Codec {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Codec{cfg: cfg.withDefaults()}
}

type envelope struct {
	bundle Bundle
	header MessageHeader
	params json.RawMessage
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env.bundle); err != nil {
		return env, fmt.Errorf("%w: %v", ErrNotMessageBundle, err)
	}
	if env.bundle.ResourceType != resourceBundle || env.bundle.Type != bundleMessage {
		return env, ErrNotMessageBundle
	}

	found := false
	for _, entry := range env.bundle.Entry {
		switch resourceType(entry.Resource) {
		case resourceMessageHeader:
			if found {
				continue
			}
			if err := json.Unmarshal(entry.Resource, &env.header); err != nil {
				return env, fmt.Errorf("%w: %v", ErrMissingHeader, err)
			}
			found = true
		case resourceParameters:
			if env.params == nil {
				env.params = entry.Resource
			}
		}
	}
	if !found || env.bundle.ID == "" {
		return env, ErrMissingHeader
	}

	return env, nil
}

func (env envelope) vitalHeader() vitalrelay.Header {
	h := vitalrelay.Header{
		MessageID:   env.bundle.ID,
		MessageType: env.header.EventURI,
		Source:      env.header.Source.Endpoint,
		RecordKind:  recordKindOf(env.header.EventURI),
	}
	if len(env.header.Destination) > 0 {
		h.Destination = env.header.Destination[0].Endpoint
	}

	return h
}

func (env envelope) parameters() (vitalrelay.BusinessKey, string, error) {
	if env.params == nil {
		return vitalrelay.BusinessKey{}, "", nil
	}
	var params Parameters
	if err := json.Unmarshal(env.params, &params); err != nil {
		return vitalrelay.BusinessKey{}, "", fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	return params.decode()
}

// ParseHeader reads the bundle id, MessageHeader and, when decodable, the business identifiers.
func (c *Codec) ParseHeader(payload []byte) (vitalrelay.Header, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return vitalrelay.Header{}, err
	}
	h := env.vitalHeader()
	if key, version, err := env.parameters(); err == nil {
		h.BusinessKey = key
		h.SchemaVersion = version
	}

	return h, nil
}

// ParseResponse decodes a response bundle. The event must be known and, except for record
// echoes, the header must reference the message it answers.
func (c *Codec) ParseResponse(payload []byte) (vitalrelay.Response, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return vitalrelay.Response{}, err
	}
	kind, ok := vitalrelay.ParseResponseKind(env.header.EventURI)
	if !ok {
		return vitalrelay.Response{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.header.EventURI)
	}
	key, version, err := env.parameters()
	if err != nil {
		return vitalrelay.Response{}, err
	}

	resp := vitalrelay.Response{
		Header:  env.vitalHeader(),
		Kind:    kind,
		Payload: payload,
	}
	resp.RecordKind = kind.RecordKind()
	resp.BusinessKey = key
	resp.SchemaVersion = version
	if env.header.Response != nil {
		resp.ResponseIdentifier = env.header.Response.Identifier
	}
	if kind.ReferenceField() == vitalrelay.RefResponseIdentifier && resp.ResponseIdentifier == "" {
		return vitalrelay.Response{}, fmt.Errorf("%w: %s", ErrMissingResponseIdentifier, resp.MessageID)
	}

	return resp, nil
}

// Acknowledge builds the acknowledgement of resp. The ack id is derived from the acknowledged
// message id, so a replayed ack is byte-identical apart from its timestamp.
func (c *Codec) Acknowledge(resp vitalrelay.Response, record vitalrelay.RecordKind) ([]byte, error) {
	kind := vitalrelay.AcknowledgementKind(record)
	id := uuid.NewSHA1(ackNamespace, []byte(resp.MessageID)).String()
	version := resp.SchemaVersion
	if version == "" {
		version = kind.RecordKind().DefaultSchemaVersion()
	}

	header := MessageHeader{
		ResourceType: resourceMessageHeader,
		ID:           childID(id, resourceMessageHeader),
		EventURI:     kind.URI(),
		Destination:  []Endpoint{{Endpoint: resp.Source}},
		Source:       Endpoint{Endpoint: resp.Destination},
		Response:     &HeaderResponse{Identifier: resp.MessageID, Code: "ok"},
	}
	params := businessParameters(childID(id, resourceParameters), kind.RecordKind(), version, resp.BusinessKey)
	header.Focus = []FocusReference{{Reference: "urn:uuid:" + params.ID}}

	return c.encode(id, mustEntry("urn:uuid:"+header.ID, header), mustEntry("urn:uuid:"+params.ID, params))
}

// ExtractionError builds the local extraction error for a message that could not be parsed. Its
// id is derived from the failed message id so redelivery yields the same message.
func (c *Codec) ExtractionError(failed vitalrelay.Header, source string) (vitalrelay.OutboundMessage, error) {
	kind := vitalrelay.ExtractionErrorKind(failed.RecordKind)
	id := uuid.NewSHA1(extractionNamespace, []byte(failed.MessageID)).String()

	header := MessageHeader{
		ResourceType: resourceMessageHeader,
		ID:           childID(id, resourceMessageHeader),
		EventURI:     kind.URI(),
		Destination:  []Endpoint{{Endpoint: failed.Source}},
		Source:       Endpoint{Endpoint: source},
		Response:     &HeaderResponse{Identifier: failed.MessageID, Code: "fatal-error"},
	}
	params := businessParameters(childID(id, resourceParameters), kind.RecordKind(), failed.SchemaVersion, failed.BusinessKey)
	outcome := OperationOutcome{
		ResourceType: resourceOutcome,
		ID:           childID(id, resourceOutcome),
		Issue: []Issue{{
			Severity:    "error",
			Code:        "structure",
			Diagnostics: fmt.Sprintf("message %s could not be parsed", failed.MessageID),
		}},
	}
	header.Focus = []FocusReference{{Reference: "urn:uuid:" + outcome.ID}}

	payload, err := c.encode(id,
		mustEntry("urn:uuid:"+header.ID, header),
		mustEntry("urn:uuid:"+params.ID, params),
		mustEntry("urn:uuid:"+outcome.ID, outcome),
	)
	if err != nil {
		return vitalrelay.OutboundMessage{}, err
	}

	return vitalrelay.OutboundMessage{
		ID:            id,
		BusinessKey:   failed.BusinessKey,
		RecordKind:    kind.RecordKind(),
		SchemaVersion: failed.SchemaVersion,
		MessageType:   kind.URI(),
		Payload:       payload,
	}, nil
}

func (c *Codec) encode(id string, entries ...BundleEntry) ([]byte, error) {
	bundle := Bundle{
		ResourceType: resourceBundle,
		ID:           id,
		Type:         bundleMessage,
		Timestamp:    c.now().Format(timestampLayout),
		Entry:        entries,
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay fhir: encode bundle %s: %w", id, err)
	}

	return payload, nil
}

func (c *Codec) now() time.Time {
	return c.cfg.Clock.Now().UTC()
}

// recordKindOf resolves the record kind of an event URI, including events the relay does not
// know by name.
func recordKindOf(eventURI string) vitalrelay.RecordKind {
	if kind, ok := vitalrelay.ParseResponseKind(eventURI); ok {
		return kind.RecordKind()
	}
	name := eventURI[strings.LastIndex(eventURI, "/")+1:]
	switch {
	case strings.HasPrefix(name, "birth_"):
		return vitalrelay.RecordKindBirth
	case strings.HasPrefix(name, "fetaldeath_"):
		return vitalrelay.RecordKindFetalDeath
	case strings.HasPrefix(name, "vrdr_"):
		return vitalrelay.RecordKindVRDR
	default:
		return ""
	}
}

func childID(parent, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(parent+"/"+name)).String()
}
