package httpgateway

import "errors"

var (
	// ErrBaseURLRequired is returned when no API base URL is configured.
	ErrBaseURLRequired = errors.New("vitalrelay http: base url is required")
	// ErrTokenURLRequired is returned when password credentials have no token URL.
	ErrTokenURLRequired = errors.New("vitalrelay http: token url is required")
	// ErrMissingEntryStatus is returned for a batch entry whose status is unreadable.
	ErrMissingEntryStatus = errors.New("vitalrelay http: batch entry has no status")
	// ErrInvalidPayload is reported for a message whose payload is not a JSON document.
	ErrInvalidPayload = errors.New("vitalrelay http: message payload is not valid JSON")
	// ErrForeignPageLink is returned when a next link leaves the API base URL.
	ErrForeignPageLink = errors.New("vitalrelay http: next link outside the api base url")
	// ErrPageLoop is returned when response pagination revisits a page.
	ErrPageLoop = errors.New("vitalrelay http: response pagination loops")
)
