package server

import "errors"

var (
	ErrEnqueuerRequired = errors.New("vitalrelay http: enqueuer is required")
	ErrStoreRequired    = errors.New("vitalrelay http: message store is required")
	ErrBuilderRequired  = errors.New("vitalrelay http: message builder is required")

	errUnknownRecordType = errors.New("unknown record type")
	errUnknownOperation  = errors.New("unknown operation")
	errEmptyBody         = errors.New("request body is empty")
	errExpectedArray     = errors.New("expected a JSON array")
	errExpectedObject    = errors.New("expected a JSON object")
)
