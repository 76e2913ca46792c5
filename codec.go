package vitalrelay

// Header is the transport envelope every wire message carries, readable even when the body is not.
type Header struct {
	MessageID     string
	MessageType   string
	Source        string
	Destination   string
	RecordKind    RecordKind
	SchemaVersion string
	BusinessKey   BusinessKey
}

// Response is a decoded inbound message.
type Response struct {
	Header
	Kind ResponseKind
	// ResponseIdentifier is the id of the message an acknowledgement, coding result, status or
	// extraction error concerns. Empty for record echoes.
	ResponseIdentifier string
	Payload            []byte
}

// ReferenceID returns the id of the outbound message the response concerns.
func (r Response) ReferenceID() string {
	if r.Kind.ReferenceField() == RefMessageID {
		return r.MessageID
	}

	return r.ResponseIdentifier
}

// Codec translates between wire payloads and engine types.
type Codec interface {
	// ParseResponse decodes an inbound payload into a typed response.
	ParseResponse(payload []byte) (Response, error)
	// ParseHeader reads only the transport header. Used when ParseResponse fails.
	ParseHeader(payload []byte) (Header, error)
	// Acknowledge builds the acknowledgement for resp using the ack kind of record.
	Acknowledge(resp Response, record RecordKind) ([]byte, error)
	// ExtractionError builds a local extraction error for a message that failed to parse,
	// stamped with source as the sending endpoint.
	ExtractionError(failed Header, source string) (OutboundMessage, error)
}
