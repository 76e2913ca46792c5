package fhir

import "errors"

var (
	// ErrNotMessageBundle is returned when a payload is not a FHIR Bundle of type message.
	ErrNotMessageBundle = errors.New("vitalrelay fhir: payload is not a message bundle")
	// ErrMissingHeader is returned when a bundle has no MessageHeader entry or no id.
	ErrMissingHeader = errors.New("vitalrelay fhir: message header is missing")
	// ErrUnknownEvent is returned when the header eventUri names no known kind.
	ErrUnknownEvent = errors.New("vitalrelay fhir: unknown message event")
	// ErrMissingResponseIdentifier is returned when a response does not reference a message.
	ErrMissingResponseIdentifier = errors.New("vitalrelay fhir: response identifier is missing")
	// ErrInvalidParameters is returned when the business identifiers cannot be decoded.
	ErrInvalidParameters = errors.New("vitalrelay fhir: invalid message parameters")
	// ErrInvalidRecord is returned when a record document carries no usable identifier.
	ErrInvalidRecord = errors.New("vitalrelay fhir: invalid record document")
	// ErrUnsupportedOperation is returned for an operation the record kind does not support.
	ErrUnsupportedOperation = errors.New("vitalrelay fhir: unsupported operation")
	// ErrNotBatchResponse is returned when a batch reply is not a batch-response bundle.
	ErrNotBatchResponse = errors.New("vitalrelay fhir: payload is not a batch response")
)
