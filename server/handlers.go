package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/fhir"
)

type voidRequest struct {
	Record     json.RawMessage `json:"record" validate:"required"`
	BlockCount *uint32         `json:"block_count" validate:"omitempty,gte=1"`
}

type aliasRequest struct {
	Record json.RawMessage `json:"record" validate:"required"`
	fhir.Alias
}

type statusParams struct {
	Year           uint32 `validate:"gte=1900,lte=9999"`
	JurisdictionID string `validate:"required,alphanum,max=4"`
	CertNo         uint32 `validate:"lte=999999"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	kind, ok := vitalrelay.ParseRecordKind(chi.URLParam(r, "recordType"))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownRecordType)
		return
	}
	name := chi.URLParam(r, "operation")
	op, ok := fhir.ParseOperation(name)
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownOperation)
		return
	}
	if _, err := fhir.EventKind(kind, op); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := splitItems(body, !strings.EqualFold(strings.TrimSpace(name), string(op)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Every item is built before any is stored so a bad item rejects the whole request.
	entries := make([]vitalrelay.Entry, 0, len(items))
	for i, item := range items {
		entry, err := s.entry(kind, op, item)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("item %d: %w", i, err))
			return
		}
		entries = append(entries, entry)
	}

	for _, entry := range entries {
		if _, err := s.enqueuer.Enqueue(r.Context(), entry); err != nil {
			s.cfg.Logger.Error("enqueue failed", "message_id", entry.ID, "record_kind", entry.RecordKind, "err", err)
			writeError(w, http.StatusInternalServerError, errors.New("message could not be stored"))
			return
		}
	}
	s.cfg.Logger.Info("messages enqueued", "record_kind", kind, "operation", op, "count", len(entries))

	w.WriteHeader(http.StatusNoContent)
}

// splitItems returns the request items. Plural operations take a JSON array, singular ones a
// single object.
func splitItems(body []byte, plural bool) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	if !plural {
		if body[0] != '{' {
			return nil, errExpectedObject
		}

		return []json.RawMessage{body}, nil
	}

	if body[0] != '[' {
		return nil, errExpectedArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errEmptyBody
	}

	return items, nil
}

func (s *Server) entry(kind vitalrelay.RecordKind, op fhir.Operation, item json.RawMessage) (vitalrelay.Entry, error) {
	sub := fhir.Submission{RecordKind: kind, Operation: op}

	switch op {
	case fhir.OpVoid:
		var req voidRequest
		if err := s.decode(item, &req); err != nil {
			return vitalrelay.Entry{}, err
		}
		sub.Record, sub.BlockCount = req.Record, req.BlockCount
	case fhir.OpAlias:
		var req aliasRequest
		if err := s.decode(item, &req); err != nil {
			return vitalrelay.Entry{}, err
		}
		alias := req.Alias
		sub.Record, sub.Alias = req.Record, &alias
	default:
		sub.Record = item
	}

	return s.builder.Message(sub)
}

func (s *Server) decode(item json.RawMessage, out any) error {
	if err := json.Unmarshal(item, out); err != nil {
		return err
	}

	return s.validate.Struct(out)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	kind, ok := vitalrelay.ParseRecordKind(chi.URLParam(r, "recordType"))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownRecordType)
		return
	}
	year, yearErr := strconv.ParseUint(chi.URLParam(r, "year"), 10, 32)
	cert, certErr := strconv.ParseUint(chi.URLParam(r, "certNo"), 10, 32)
	if err := errors.Join(yearErr, certErr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	params := statusParams{
		Year:           uint32(year),
		JurisdictionID: chi.URLParam(r, "jurisdictionId"),
		CertNo:         uint32(cert),
	}
	if err := s.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	key := vitalrelay.BusinessKey{
		JurisdictionID:    params.JurisdictionID,
		CertificateNumber: params.CertNo,
		EventYear:         params.Year,
	}
	msgs, err := s.store.ListMessages(r.Context(), vitalrelay.MessageFilter{
		RecordKind:  kind,
		BusinessKey: &key,
		Newest:      true,
		Limit:       1,
	})
	if err != nil {
		s.internalError(w, "status lookup", err)
		return
	}
	if len(msgs) == 0 {
		writeError(w, http.StatusNotFound, vitalrelay.ErrMessageNotFound)
		return
	}

	msg := msgs[0]
	out := statusView{Message: newMessageView(msg, true)}
	if msg.Status.Terminal() {
		resps, err := s.store.ListResponses(r.Context(), vitalrelay.ResponseFilter{ReferenceID: msg.ID})
		if err != nil {
			s.internalError(w, "response lookup", err)
			return
		}
		out.Responses = make([]responseView, 0, len(resps))
		for _, resp := range resps {
			out.Responses = append(out.Responses, newResponseView(resp))
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter vitalrelay.MessageFilter

	for _, raw := range query["status"] {
		for _, name := range strings.Split(raw, ",") {
			status, ok := vitalrelay.ParseStatus(strings.TrimSpace(name))
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", name))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := query.Get("record_type"); raw != "" {
		kind, ok := vitalrelay.ParseRecordKind(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, errUnknownRecordType)
			return
		}
		filter.RecordKind = kind
	}
	filter.Limit = defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxListLimit))
			return
		}
		filter.Limit = limit
	}
	filter.Newest = true

	msgs, err := s.store.ListMessages(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, newMessageView(msg, false))
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) receiveResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyBody)
		return
	}
	if err := s.cfg.Responses.Handle(r.Context(), body); err != nil {
		s.internalError(w, "handle response", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.cfg.Logger.Error("request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}
