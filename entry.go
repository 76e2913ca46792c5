package vitalrelay

// Entry describes a new outbound message to be enqueued.
type Entry struct {
	// ID is assigned by the codec and never reused.
	ID            string
	BusinessKey   BusinessKey
	RecordKind    RecordKind
	SchemaVersion string
	MessageType   string
	// Payload is the serialized wire message.
	Payload []byte
}

// Validate checks required fields.
func (e Entry) Validate() error {
	if e.ID == "" {
		return ErrMessageIDRequired
	}
	if !e.RecordKind.Valid() {
		return ErrInvalidRecordKind
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}

	return nil
}

// Message converts the entry into a Pending outbound message stamped by clock.
func (e Entry) Message(clock Clock) OutboundMessage {
	at := clock.Now()

	return OutboundMessage{
		ID:            e.ID,
		BusinessKey:   e.BusinessKey,
		RecordKind:    e.RecordKind,
		SchemaVersion: e.SchemaVersion,
		MessageType:   e.MessageType,
		Payload:       e.Payload,
		Status:        StatusPending,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}
