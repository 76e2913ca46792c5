// Package httpgateway delivers vitalrelay messages to the NCHS FHIR messaging API over HTTP.
//
// Messages are posted as batch bundles of at most BatchSize entries and each entry's status in
// the batch response becomes that message's outcome. Responses are read page by page from the
// Bundle search endpoint. Requests carry an OAuth2 bearer token obtained with the password grant;
// a 401 discards the cached token and retries the request once.
package httpgateway
