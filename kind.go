package vitalrelay

import "strings"

// ResponseKind is the closed set of inbound message kinds. Kinds differ only in how the reference
// id is obtained, which status they drive the outbound message to, and whether they are
// acknowledged back.
type ResponseKind uint8

const (
	KindUnknown ResponseKind = iota

	KindAcknowledgement
	KindCauseOfDeathCoding
	KindCauseOfDeathCodingUpdate
	KindDemographicsCoding
	KindDemographicsCodingUpdate
	KindIndustryOccupationCoding
	KindIndustryOccupationCodingUpdate
	KindExtractionError
	KindStatus
	KindDeathRecordSubmission
	KindDeathRecordUpdate
	KindDeathRecordVoid
	KindDeathRecordAlias

	KindBirthAcknowledgement
	KindBirthSubmission
	KindBirthUpdate
	KindBirthVoid
	KindBirthStatus
	KindBirthParentalDemographicsCoding
	KindBirthParentalDemographicsCodingUpdate
	KindBirthError

	KindFetalDeathAcknowledgement
	KindFetalDeathSubmission
	KindFetalDeathUpdate
	KindFetalDeathVoid
	KindFetalDeathStatus
	KindFetalDeathCauseCoding
	KindFetalDeathCauseCodingUpdate
	KindFetalDeathParentalDemographicsCoding
	KindFetalDeathParentalDemographicsCodingUpdate
	KindFetalDeathError

	kindCount
)

// ResponseClass groups kinds that share reconciliation behavior.
type ResponseClass uint8

const (
	// ClassUnknown is the class of KindUnknown.
	ClassUnknown ResponseClass = iota
	// ClassAcknowledgement moves a Sent message to Acknowledged.
	ClassAcknowledgement
	// ClassCoding moves a message to AcknowledgedAndCoded.
	ClassCoding
	// ClassExtractionError moves a message to Error. Never acknowledged back.
	ClassExtractionError
	// ClassStatus is recorded without a transition. Never acknowledged back.
	ClassStatus
	// ClassRecord covers record messages echoed by the remote side; recorded without a transition.
	ClassRecord
)

// ReferenceField names where a kind carries the id of the message it concerns.
type ReferenceField uint8

const (
	// RefResponseIdentifier reads the header's response identifier (acked, coded, failed or
	// statused message id).
	RefResponseIdentifier ReferenceField = iota
	// RefMessageID uses the response's own message id.
	RefMessageID
)

const kindURIPrefix = "http://nchs.cdc.gov/"

type kindRow struct {
	name   string
	record RecordKind
	class  ResponseClass
	ref    ReferenceField
}

var kindRows = [kindCount]kindRow{
	KindUnknown: {name: "unknown"},

	KindAcknowledgement:                {"vrdr_acknowledgement", RecordKindVRDR, ClassAcknowledgement, RefResponseIdentifier},
	KindCauseOfDeathCoding:             {"vrdr_causeofdeath_coding", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindCauseOfDeathCodingUpdate:       {"vrdr_causeofdeath_coding_update", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindDemographicsCoding:             {"vrdr_demographics_coding", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindDemographicsCodingUpdate:       {"vrdr_demographics_coding_update", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindIndustryOccupationCoding:       {"vrdr_industryoccupation_coding", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindIndustryOccupationCodingUpdate: {"vrdr_industryoccupation_coding_update", RecordKindVRDR, ClassCoding, RefResponseIdentifier},
	KindExtractionError:                {"vrdr_extraction_error", RecordKindVRDR, ClassExtractionError, RefResponseIdentifier},
	KindStatus:                         {"vrdr_status", RecordKindVRDR, ClassStatus, RefResponseIdentifier},
	KindDeathRecordSubmission:          {"vrdr_submission", RecordKindVRDR, ClassRecord, RefMessageID},
	KindDeathRecordUpdate:              {"vrdr_submission_update", RecordKindVRDR, ClassRecord, RefMessageID},
	KindDeathRecordVoid:                {"vrdr_submission_void", RecordKindVRDR, ClassRecord, RefMessageID},
	KindDeathRecordAlias:               {"vrdr_alias", RecordKindVRDR, ClassRecord, RefMessageID},

	KindBirthAcknowledgement:                  {"birth_acknowledgement", RecordKindBirth, ClassAcknowledgement, RefResponseIdentifier},
	KindBirthSubmission:                       {"birth_submission", RecordKindBirth, ClassRecord, RefMessageID},
	KindBirthUpdate:                           {"birth_submission_update", RecordKindBirth, ClassRecord, RefMessageID},
	KindBirthVoid:                             {"birth_submission_void", RecordKindBirth, ClassRecord, RefMessageID},
	KindBirthStatus:                           {"birth_status", RecordKindBirth, ClassStatus, RefResponseIdentifier},
	KindBirthParentalDemographicsCoding:       {"birth_parental_demographics_coding", RecordKindBirth, ClassCoding, RefResponseIdentifier},
	KindBirthParentalDemographicsCodingUpdate: {"birth_parental_demographics_coding_update", RecordKindBirth, ClassCoding, RefResponseIdentifier},
	KindBirthError:                            {"birth_extraction_error", RecordKindBirth, ClassExtractionError, RefResponseIdentifier},

	KindFetalDeathAcknowledgement:                  {"fetaldeath_acknowledgement", RecordKindFetalDeath, ClassAcknowledgement, RefResponseIdentifier},
	KindFetalDeathSubmission:                       {"fetaldeath_submission", RecordKindFetalDeath, ClassRecord, RefMessageID},
	KindFetalDeathUpdate:                           {"fetaldeath_submission_update", RecordKindFetalDeath, ClassRecord, RefMessageID},
	KindFetalDeathVoid:                             {"fetaldeath_submission_void", RecordKindFetalDeath, ClassRecord, RefMessageID},
	KindFetalDeathStatus:                           {"fetaldeath_status", RecordKindFetalDeath, ClassStatus, RefResponseIdentifier},
	KindFetalDeathCauseCoding:                      {"fetaldeath_cause_or_condition_coding", RecordKindFetalDeath, ClassCoding, RefResponseIdentifier},
	KindFetalDeathCauseCodingUpdate:                {"fetaldeath_cause_or_condition_coding_update", RecordKindFetalDeath, ClassCoding, RefResponseIdentifier},
	KindFetalDeathParentalDemographicsCoding:       {"fetaldeath_parental_demographics_coding", RecordKindFetalDeath, ClassCoding, RefResponseIdentifier},
	KindFetalDeathParentalDemographicsCodingUpdate: {"fetaldeath_parental_demographics_coding_update", RecordKindFetalDeath, ClassCoding, RefResponseIdentifier},
	KindFetalDeathError:                            {"fetaldeath_extraction_error", RecordKindFetalDeath, ClassExtractionError, RefResponseIdentifier},
}

var kindsByName = func() map[string]ResponseKind {
	out := make(map[string]ResponseKind, kindCount)
	for k := KindAcknowledgement; k < kindCount; k++ {
		out[kindRows[k].name] = k
	}

	return out
}()

// ResponseKinds returns every known kind, excluding KindUnknown.
func ResponseKinds() []ResponseKind {
	out := make([]ResponseKind, 0, kindCount-1)
	for k := KindAcknowledgement; k < kindCount; k++ {
		out = append(out, k)
	}

	return out
}

func (k ResponseKind) row() kindRow {
	if k >= kindCount {
		return kindRows[KindUnknown]
	}

	return kindRows[k]
}

// Valid reports whether k is a known kind.
func (k ResponseKind) Valid() bool {
	return k > KindUnknown && k < kindCount
}

// String returns the stable kind name used in storage and logs.
func (k ResponseKind) String() string {
	return k.row().name
}

// URI returns the message type URI carried in message headers.
func (k ResponseKind) URI() string {
	if !k.Valid() {
		return ""
	}

	return kindURIPrefix + k.row().name
}

// RecordKind returns the record kind the response kind belongs to.
func (k ResponseKind) RecordKind() RecordKind {
	return k.row().record
}

// Class returns the reconciliation class.
func (k ResponseKind) Class() ResponseClass {
	return k.row().class
}

// ReferenceField returns where the kind carries its reference id.
func (k ResponseKind) ReferenceField() ReferenceField {
	return k.row().ref
}

// RequiresAck reports whether a response of this kind is acknowledged back to the remote side.
func (k ResponseKind) RequiresAck() bool {
	switch k.Class() {
	case ClassExtractionError, ClassStatus, ClassUnknown:
		return false
	default:
		return true
	}
}

// Target returns the status a response of this kind drives its outbound message to.
func (k ResponseKind) Target() (Status, bool) {
	switch k.Class() {
	case ClassAcknowledgement:
		return StatusAcknowledged, true
	case ClassCoding:
		return StatusAcknowledgedAndCoded, true
	case ClassExtractionError:
		return StatusError, true
	default:
		return "", false
	}
}

// AcknowledgementKind returns the acknowledgement kind for a record kind.
func AcknowledgementKind(record RecordKind) ResponseKind {
	switch record {
	case RecordKindBirth:
		return KindBirthAcknowledgement
	case RecordKindFetalDeath:
		return KindFetalDeathAcknowledgement
	default:
		return KindAcknowledgement
	}
}

// ExtractionErrorKind returns the extraction error kind for a record kind.
func ExtractionErrorKind(record RecordKind) ResponseKind {
	switch record {
	case RecordKindBirth:
		return KindBirthError
	case RecordKindFetalDeath:
		return KindFetalDeathError
	default:
		return KindExtractionError
	}
}

// ParseResponseKind resolves a kind from its name or message type URI.
func ParseResponseKind(value string) (ResponseKind, bool) {
	name := strings.TrimPrefix(strings.TrimSpace(value), kindURIPrefix)
	k, ok := kindsByName[name]

	return k, ok
}
