package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/velmie/vitalrelay"
)

const (
	resourceBundle        = "Bundle"
	resourceMessageHeader = "MessageHeader"
	resourceParameters    = "Parameters"
	resourceOutcome       = "OperationOutcome"

	bundleMessage       = "message"
	bundleBatch         = "batch"
	bundleBatchResponse = "batch-response"
	bundleSearchset     = "searchset"
)

// Parameter names carried by the message Parameters resource.
const (
	ParamJurisdictionID   = "jurisdiction_id"
	ParamCertNo           = "cert_no"
	ParamDeathYear        = "death_year"
	ParamEventYear        = "event_year"
	ParamStateAuxiliaryID = "state_auxiliary_id"
	ParamPayloadVersion   = "payload_version_id"
	ParamBlockCount       = "block_count"
)

// Bundle is a FHIR Bundle reduced to the fields the relay reads and writes.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []Link        `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// Link is a bundle navigation link.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry is one bundle entry. Resource is kept raw so record documents pass through untouched.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *EntryRequest   `json:"request,omitempty"`
	Response *EntryResponse  `json:"response,omitempty"`
}

// EntryRequest is the request part of a batch entry.
type EntryRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// EntryResponse is the response part of a batch-response entry.
type EntryResponse struct {
	Status  string          `json:"status"`
	Outcome json.RawMessage `json:"outcome,omitempty"`
}

// MessageHeader is the FHIR MessageHeader resource.
type MessageHeader struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	EventURI     string           `json:"eventUri"`
	Destination  []Endpoint       `json:"destination,omitempty"`
	Source       Endpoint         `json:"source"`
	Response     *HeaderResponse  `json:"response,omitempty"`
	Focus        []FocusReference `json:"focus,omitempty"`
}

// Endpoint is a message source or destination.
type Endpoint struct {
	Endpoint string `json:"endpoint"`
}

// HeaderResponse references the message a response concerns.
type HeaderResponse struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// FocusReference points at a resource inside the bundle.
type FocusReference struct {
	Reference string `json:"reference"`
}

// Parameters is the FHIR Parameters resource.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Parameter    []Parameter `json:"parameter,omitempty"`
}

// Parameter is one named value. Exactly one value field is set.
type Parameter struct {
	Name             string  `json:"name"`
	ValueString      *string `json:"valueString,omitempty"`
	ValueUnsignedInt *uint32 `json:"valueUnsignedInt,omitempty"`
}

// OperationOutcome is the FHIR OperationOutcome resource.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id,omitempty"`
	Issue        []Issue `json:"issue"`
}

// Issue is one OperationOutcome issue.
type Issue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

func stringParam(name, value string) Parameter {
	return Parameter{Name: name, ValueString: &value}
}

func uintParam(name string, value uint32) Parameter {
	return Parameter{Name: name, ValueUnsignedInt: &value}
}

func (p Parameter) text() string {
	switch {
	case p.ValueString != nil:
		return *p.ValueString
	case p.ValueUnsignedInt != nil:
		return strconv.FormatUint(uint64(*p.ValueUnsignedInt), 10)
	default:
		return ""
	}
}

func (p Parameter) unsigned() (uint32, error) {
	if p.ValueUnsignedInt != nil {
		return *p.ValueUnsignedInt, nil
	}
	if p.ValueString == nil || *p.ValueString == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(*p.ValueString, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, p.Name, err)
	}

	return uint32(v), nil
}

// businessParameters renders the business identifiers of a message.
func businessParameters(id string, kind vitalrelay.RecordKind, version string, key vitalrelay.BusinessKey) Parameters {
	year := ParamDeathYear
	if kind != vitalrelay.RecordKindVRDR {
		year = ParamEventYear
	}
	params := []Parameter{
		stringParam(ParamJurisdictionID, key.JurisdictionID),
		uintParam(ParamCertNo, key.CertificateNumber),
		uintParam(year, key.EventYear),
	}
	if key.StateAuxiliaryID != "" {
		params = append(params, stringParam(ParamStateAuxiliaryID, key.StateAuxiliaryID))
	}
	if version != "" {
		params = append(params, stringParam(ParamPayloadVersion, version))
	}

	return Parameters{ResourceType: resourceParameters, ID: id, Parameter: params}
}

// decode reads business identifiers and the payload version.
func (p Parameters) decode() (vitalrelay.BusinessKey, string, error) {
	var (
		key     vitalrelay.BusinessKey
		version string
		err     error
	)
	for _, param := range p.Parameter {
		switch param.Name {
		case ParamJurisdictionID:
			key.JurisdictionID = param.text()
		case ParamStateAuxiliaryID:
			key.StateAuxiliaryID = param.text()
		case ParamPayloadVersion:
			version = param.text()
		case ParamCertNo:
			key.CertificateNumber, err = param.unsigned()
		case ParamDeathYear, ParamEventYear:
			key.EventYear, err = param.unsigned()
		}
		if err != nil {
			return vitalrelay.BusinessKey{}, "", err
		}
	}

	return key, version, nil
}

func resourceType(raw json.RawMessage) string {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}

	return head.ResourceType
}

func mustEntry(fullURL string, resource any) BundleEntry {
	raw, err := json.Marshal(resource)
	if err != nil {
		panic(fmt.Sprintf("vitalrelay fhir: marshal %T: %v", resource, err))
	}

	return BundleEntry{FullURL: fullURL, Resource: raw}
}
