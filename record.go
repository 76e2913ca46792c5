package vitalrelay

import (
	"strings"
	"time"
)

// RecordKind is the vital-event category that selects the delivery path and schema rules.
type RecordKind string

const (
	// RecordKindVRDR identifies death records.
	RecordKindVRDR RecordKind = "VRDR"
	// RecordKindBirth identifies birth records.
	RecordKindBirth RecordKind = "BFDR-BIRTH"
	// RecordKindFetalDeath identifies fetal death records.
	RecordKindFetalDeath RecordKind = "BFDR-FETALDEATH"
)

const (
	defaultVRDRVersion = "VRDR_STU3_0"
	defaultBFDRVersion = "BFDR_STU2_0"
)

// RecordKinds lists the known record kinds in delivery order.
func RecordKinds() []RecordKind {
	return []RecordKind{RecordKindVRDR, RecordKindBirth, RecordKindFetalDeath}
}

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindVRDR, RecordKindBirth, RecordKindFetalDeath:
		return true
	default:
		return false
	}
}

// DefaultSchemaVersion returns the schema version used when a message carries none.
func (k RecordKind) DefaultSchemaVersion() string {
	switch k {
	case RecordKindBirth, RecordKindFetalDeath:
		return defaultBFDRVersion
	default:
		return defaultVRDRVersion
	}
}

// ParseRecordKind converts a case-insensitive name ("vrdr", "bfdr-birth") into a RecordKind.
func ParseRecordKind(name string) (RecordKind, bool) {
	k := RecordKind(strings.ToUpper(strings.TrimSpace(name)))

	return k, k.Valid()
}

// DeliveryPath derives the remote path "{recordKind}/{schemaVersion}". Unknown or empty kinds fall
// back to death records, an empty version to the kind's default.
func DeliveryPath(kind RecordKind, version string) string {
	if !kind.Valid() {
		kind = RecordKindVRDR
	}
	if strings.TrimSpace(version) == "" {
		version = kind.DefaultSchemaVersion()
	}

	return string(kind) + "/" + version
}

// BusinessKey identifies the real-world vital event across every message about it.
type BusinessKey struct {
	JurisdictionID    string
	CertificateNumber uint32
	EventYear         uint32
	StateAuxiliaryID  string
}

// IsZero reports whether no identifier is set.
func (k BusinessKey) IsZero() bool {
	return k == BusinessKey{}
}

// OutboundMessage is a message the jurisdiction delivers to the remote side.
type OutboundMessage struct {
	ID            string
	BusinessKey   BusinessKey
	RecordKind    RecordKind
	SchemaVersion string
	// MessageType is the codec's message type tag (for example a submission or void URI).
	MessageType string
	Payload     []byte
	Status      Status
	Retries     int
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Path returns the delivery path for the message.
func (m OutboundMessage) Path() string {
	return DeliveryPath(m.RecordKind, m.SchemaVersion)
}

// Overdue reports whether the acknowledgement window expired at now.
func (m OutboundMessage) Overdue(now time.Time) bool {
	return m.Status.Resendable() && m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// InboundResponse is a response received from the remote side.
type InboundResponse struct {
	ID string
	// ReferenceID is the id of the outbound message this response concerns.
	ReferenceID   string
	BusinessKey   BusinessKey
	RecordKind    RecordKind
	SchemaVersion string
	Kind          ResponseKind
	Payload       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Path returns the delivery path acknowledgements for this response use.
func (r InboundResponse) Path() string {
	return DeliveryPath(r.RecordKind, r.SchemaVersion)
}
