package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/velmie/vitalrelay"
)

// Operation is what an outbound message asks the remote side to do with a record.
type Operation string

const (
	OpSubmission Operation = "submission"
	OpUpdate     Operation = "update"
	OpVoid       Operation = "void"
	OpAlias      Operation = "alias"
)

// ParseOperation accepts singular and plural names ("update", "updates", "aliases").
func ParseOperation(name string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "submission", "submissions":
		return OpSubmission, true
	case "update", "updates":
		return OpUpdate, true
	case "void", "voids":
		return OpVoid, true
	case "alias", "aliases":
		return OpAlias, true
	default:
		return "", false
	}
}

var eventKinds = map[vitalrelay.RecordKind]map[Operation]vitalrelay.ResponseKind{
	vitalrelay.RecordKindVRDR: {
		OpSubmission: vitalrelay.KindDeathRecordSubmission,
		OpUpdate:     vitalrelay.KindDeathRecordUpdate,
		OpVoid:       vitalrelay.KindDeathRecordVoid,
		OpAlias:      vitalrelay.KindDeathRecordAlias,
	},
	vitalrelay.RecordKindBirth: {
		OpSubmission: vitalrelay.KindBirthSubmission,
		OpUpdate:     vitalrelay.KindBirthUpdate,
		OpVoid:       vitalrelay.KindBirthVoid,
	},
	vitalrelay.RecordKindFetalDeath: {
		OpSubmission: vitalrelay.KindFetalDeathSubmission,
		OpUpdate:     vitalrelay.KindFetalDeathUpdate,
		OpVoid:       vitalrelay.KindFetalDeathVoid,
	},
}

// EventKind returns the message kind of op for record. Alias exists for death records only.
func EventKind(record vitalrelay.RecordKind, op Operation) (vitalrelay.ResponseKind, error) {
	kind, ok := eventKinds[record][op]
	if !ok {
		return vitalrelay.KindUnknown, fmt.Errorf("%w: %s %s", ErrUnsupportedOperation, record, op)
	}

	return kind, nil
}

// Alias carries the alternate decedent identity of an alias message.
type Alias struct {
	DecedentFirstName    string `json:"alias_decedent_first_name"`
	DecedentLastName     string `json:"alias_decedent_last_name"`
	DecedentMiddleName   string `json:"alias_decedent_middle_name"`
	DecedentNameSuffix   string `json:"alias_decedent_name_suffix"`
	FatherSurname        string `json:"alias_father_surname"`
	SocialSecurityNumber string `json:"alias_social_security_number"`
}

func (a Alias) parameters() []Parameter {
	return []Parameter{
		stringParam("alias_decedent_first_name", a.DecedentFirstName),
		stringParam("alias_decedent_last_name", a.DecedentLastName),
		stringParam("alias_decedent_middle_name", a.DecedentMiddleName),
		stringParam("alias_decedent_name_suffix", a.DecedentNameSuffix),
		stringParam("alias_father_surname", a.FatherSurname),
		stringParam("alias_social_security_number", a.SocialSecurityNumber),
	}
}

// Submission describes an outbound message wrapping a jurisdiction record.
type Submission struct {
	RecordKind vitalrelay.RecordKind
	Operation  Operation
	// Record is the record document. Business identifiers are read from its identifier.
	Record json.RawMessage
	// BlockCount is the number of certificate numbers a void covers.
	BlockCount *uint32
	Alias      *Alias
}

// Message wraps s into a message bundle ready to be enqueued.
func (c *Codec) Message(s Submission) (vitalrelay.Entry, error) {
	kind, err := EventKind(s.RecordKind, s.Operation)
	if err != nil {
		return vitalrelay.Entry{}, err
	}
	if s.Operation == OpAlias && s.Alias == nil {
		return vitalrelay.Entry{}, fmt.Errorf("%w: alias values are required", ErrUnsupportedOperation)
	}
	key, err := RecordIdentifiers(s.Record)
	if err != nil {
		return vitalrelay.Entry{}, err
	}

	id := c.cfg.NewID()
	version := s.RecordKind.DefaultSchemaVersion()
	params := businessParameters(childID(id, resourceParameters), s.RecordKind, version, key)
	if s.Operation == OpVoid {
		count := uint32(1)
		if s.BlockCount != nil {
			count = *s.BlockCount
		}
		params.Parameter = append(params.Parameter, uintParam(ParamBlockCount, count))
	}
	if s.Operation == OpAlias {
		params.Parameter = append(params.Parameter, s.Alias.parameters()...)
	}

	header := MessageHeader{
		ResourceType: resourceMessageHeader,
		ID:           childID(id, resourceMessageHeader),
		EventURI:     kind.URI(),
		Destination:  []Endpoint{{Endpoint: kind.URI()}},
		Source:       Endpoint{Endpoint: c.cfg.Source},
	}
	focus := "urn:uuid:" + params.ID
	var record *BundleEntry
	if s.Operation == OpSubmission || s.Operation == OpUpdate {
		focus = "urn:uuid:" + childID(id, "record")
		record = &BundleEntry{FullURL: focus, Resource: s.Record}
	}
	header.Focus = []FocusReference{{Reference: focus}}

	entries := []BundleEntry{
		mustEntry("urn:uuid:"+header.ID, header),
		mustEntry("urn:uuid:"+params.ID, params),
	}
	if record != nil {
		entries = append(entries, *record)
	}

	payload, err := c.encode(id, entries...)
	if err != nil {
		return vitalrelay.Entry{}, err
	}

	return vitalrelay.Entry{
		ID:            id,
		BusinessKey:   key,
		RecordKind:    s.RecordKind,
		SchemaVersion: version,
		MessageType:   kind.URI(),
		Payload:       payload,
	}, nil
}

type recordDocument struct {
	ResourceType string `json:"resourceType"`
	Identifier   struct {
		Value     string `json:"value"`
		Extension []struct {
			URL         string `json:"url"`
			ValueString string `json:"valueString"`
		} `json:"extension"`
	} `json:"identifier"`
}

// RecordIdentifiers reads the business key of a record document. The identifier value is the
// four digit event year, the jurisdiction id and the six digit certificate number, as in
// "2024MA000042"; the state auxiliary id is the AuxiliaryStateIdentifier1 extension.
func RecordIdentifiers(record json.RawMessage) (vitalrelay.BusinessKey, error) {
	var doc recordDocument
	if err := json.Unmarshal(record, &doc); err != nil {
		return vitalrelay.BusinessKey{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if doc.ResourceType != resourceBundle {
		return vitalrelay.BusinessKey{}, fmt.Errorf("%w: resourceType %q", ErrInvalidRecord, doc.ResourceType)
	}

	value := strings.TrimSpace(doc.Identifier.Value)
	if len(value) < 11 {
		return vitalrelay.BusinessKey{}, fmt.Errorf("%w: identifier %q", ErrInvalidRecord, value)
	}
	year, err := strconv.ParseUint(value[:4], 10, 32)
	if err != nil {
		return vitalrelay.BusinessKey{}, fmt.Errorf("%w: identifier year %q", ErrInvalidRecord, value)
	}
	cert, err := strconv.ParseUint(value[len(value)-6:], 10, 32)
	if err != nil {
		return vitalrelay.BusinessKey{}, fmt.Errorf("%w: identifier certificate %q", ErrInvalidRecord, value)
	}

	key := vitalrelay.BusinessKey{
		JurisdictionID:    value[4 : len(value)-6],
		CertificateNumber: uint32(cert),
		EventYear:         uint32(year),
	}
	for _, ext := range doc.Identifier.Extension {
		if strings.HasSuffix(ext.URL, "AuxiliaryStateIdentifier1") {
			key.StateAuxiliaryID = ext.ValueString
		}
	}

	return key, nil
}
