package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/velmie/vitalrelay"
)

type messageView struct {
	ID               string          `json:"id"`
	RecordKind       string          `json:"record_type"`
	SchemaVersion    string          `json:"schema_version,omitempty"`
	MessageType      string          `json:"message_type,omitempty"`
	JurisdictionID   string          `json:"jurisdiction_id,omitempty"`
	CertificateNo    uint32          `json:"cert_no,omitempty"`
	EventYear        uint32          `json:"event_year,omitempty"`
	StateAuxiliaryID string          `json:"state_auxiliary_id,omitempty"`
	Status           string          `json:"status"`
	Retries          int             `json:"retries"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

func newMessageView(msg vitalrelay.OutboundMessage, withPayload bool) messageView {
	v := messageView{
		ID:               msg.ID,
		RecordKind:       string(msg.RecordKind),
		SchemaVersion:    msg.SchemaVersion,
		MessageType:      msg.MessageType,
		JurisdictionID:   msg.BusinessKey.JurisdictionID,
		CertificateNo:    msg.BusinessKey.CertificateNumber,
		EventYear:        msg.BusinessKey.EventYear,
		StateAuxiliaryID: msg.BusinessKey.StateAuxiliaryID,
		Status:           msg.Status.String(),
		Retries:          msg.Retries,
		ExpiresAt:        msg.ExpiresAt,
		CreatedAt:        msg.CreatedAt,
		UpdatedAt:        msg.UpdatedAt,
	}
	if withPayload && json.Valid(msg.Payload) {
		v.Payload = msg.Payload
	}

	return v
}

type responseView struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Kind        string          `json:"kind"`
	MessageType string          `json:"message_type"`
	CreatedAt   time.Time       `json:"created_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func newResponseView(resp vitalrelay.InboundResponse) responseView {
	v := responseView{
		ID:          resp.ID,
		ReferenceID: resp.ReferenceID,
		Kind:        resp.Kind.String(),
		MessageType: resp.Kind.URI(),
		CreatedAt:   resp.CreatedAt,
	}
	if json.Valid(resp.Payload) {
		v.Payload = resp.Payload
	}

	return v
}

type statusView struct {
	Message   messageView    `json:"message"`
	Responses []responseView `json:"responses,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
