// Package fhir implements the vitalrelay codec for FHIR message bundles exchanged with the NCHS
// messaging API.
//
// A message is a Bundle of type "message" whose first entry is a MessageHeader. The header's
// eventUri names the message kind, response.identifier references the message a response
// concerns, and a Parameters entry carries the business identifiers. Record payloads travel as
// a further entry, untouched.
package fhir
