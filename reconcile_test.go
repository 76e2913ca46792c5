package vitalrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/velmie/vitalrelay"
)

func (h *harness) sent(t *testing.T, id string, kind vitalrelay.RecordKind) {
	t.Helper()
	h.enqueue(t, id, kind)
	if _, err := h.engine.SubmitNewMessages(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func (h *harness) reconcile(t *testing.T, msg wireMessage) vitalrelay.Reconciliation {
	t.Helper()
	rec, err := h.engine.Reconcile(context.Background(), encode(msg))
	if err != nil {
		t.Fatalf("reconcile %s: %v", msg.ID, err)
	}

	return rec
}

func TestAcknowledgementAndDuplicate(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)

	ack := wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "m1", Record: "VRDR"}
	rec := h.reconcile(t, ack)
	if rec.Result != vitalrelay.ResultApplied || rec.To != vitalrelay.StatusAcknowledged || !rec.Acked {
		t.Fatalf("unexpected reconciliation: %+v", rec)
	}
	if got := h.message(t, "m1").Status; got != vitalrelay.StatusAcknowledged {
		t.Fatalf("expected Acknowledged, got %s", got)
	}

	rec = h.reconcile(t, ack)
	if rec.Result != vitalrelay.ResultDuplicate || !rec.Acked {
		t.Fatalf("expected acknowledged duplicate, got %+v", rec)
	}
	if n := len(h.responses(t, "m1")); n != 1 {
		t.Fatalf("expected 1 response row, got %d", n)
	}
	if n := h.gateway.ackCount(); n != 2 {
		t.Fatalf("expected the ack to be sent twice, got %d", n)
	}
	if got := h.message(t, "m1").Status; got != vitalrelay.StatusAcknowledged {
		t.Fatalf("duplicate changed status to %s", got)
	}
	if h.metrics.duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", h.metrics.duplicates)
	}
}

func TestCodingUpgradesAcknowledged(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)
	h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "m1"})
	acksBefore := h.gateway.ackCount()

	rec := h.reconcile(t, wireMessage{ID: "r2", Kind: "vrdr_causeofdeath_coding", Ref: "m1"})
	if rec.From != vitalrelay.StatusAcknowledged || rec.To != vitalrelay.StatusAcknowledgedAndCoded {
		t.Fatalf("unexpected transition: %+v", rec)
	}
	if got := h.message(t, "m1").Status; got != vitalrelay.StatusAcknowledgedAndCoded {
		t.Fatalf("expected AcknowledgedAndCoded, got %s", got)
	}

	stored, err := h.store.GetResponse(context.Background(), "r2")
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if stored.ReferenceID != "m1" || stored.Kind != vitalrelay.KindCauseOfDeathCoding {
		t.Fatalf("unexpected stored response: %+v", stored)
	}
	if h.gateway.ackCount()-acksBefore != 1 {
		t.Fatalf("expected one acknowledgement for the coding")
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)

	h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_demographics_coding", Ref: "m1"})
	rec := h.reconcile(t, wireMessage{ID: "r2", Kind: "vrdr_acknowledgement", Ref: "m1"})
	if rec.Result != vitalrelay.ResultRecorded {
		t.Fatalf("expected late ack to be recorded only, got %+v", rec)
	}
	h.reconcile(t, wireMessage{ID: "r3", Kind: "vrdr_acknowledgement", Ref: "m1"})
	h.reconcile(t, wireMessage{ID: "r4", Kind: "vrdr_extraction_error", Ref: "m1"})

	if got := h.message(t, "m1").Status; got != vitalrelay.StatusAcknowledgedAndCoded {
		t.Fatalf("expected AcknowledgedAndCoded to stick, got %s", got)
	}
}

func TestAckRequiresSent(t *testing.T) {
	h := newHarness()
	h.enqueue(t, "m1", vitalrelay.RecordKindVRDR)

	rec := h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "m1"})
	if rec.Result != vitalrelay.ResultRecorded {
		t.Fatalf("expected ack on Pending to be recorded only, got %+v", rec)
	}
	if got := h.message(t, "m1").Status; got != vitalrelay.StatusPending {
		t.Fatalf("expected Pending, got %s", got)
	}
}

func TestExtractionErrorResponse(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindBirth)

	rec := h.reconcile(t, wireMessage{ID: "r1", Kind: "birth_extraction_error", Ref: "m1"})
	if rec.To != vitalrelay.StatusError || rec.Acked {
		t.Fatalf("expected Error without ack, got %+v", rec)
	}
	if h.gateway.ackCount() != 0 {
		t.Fatalf("extraction errors must not be acknowledged")
	}
}

func TestStatusKindRecordedWithoutTransition(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)

	rec := h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_status", Ref: "m1"})
	if rec.Result != vitalrelay.ResultRecorded || rec.Acked {
		t.Fatalf("unexpected reconciliation: %+v", rec)
	}
	if got := h.message(t, "m1").Status; got != vitalrelay.StatusSent {
		t.Fatalf("expected Sent, got %s", got)
	}
	if h.gateway.ackCount() != 0 {
		t.Fatalf("status updates must not be acknowledged")
	}
}

func TestAcknowledgementUsesOriginalRecordKind(t *testing.T) {
	h := newHarness()
	h.sent(t, "fd1", vitalrelay.RecordKindFetalDeath)

	h.reconcile(t, wireMessage{ID: "r1", Kind: "fetaldeath_cause_or_condition_coding", Ref: "fd1"})

	h.gateway.mu.Lock()
	ack := h.gateway.acks[0]
	h.gateway.mu.Unlock()
	if ack.path != "BFDR-FETALDEATH/BFDR_STU2_0" {
		t.Fatalf("unexpected ack path %s", ack.path)
	}
	var body wireMessage
	if err := json.Unmarshal(ack.payload, &body); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if body.AckOf != "r1" || body.AckKind != "fetaldeath_acknowledgement" {
		t.Fatalf("unexpected ack body: %+v", body)
	}
}

func TestRecordEchoCorrelatesByOwnID(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)

	rec := h.reconcile(t, wireMessage{ID: "m1", Kind: "vrdr_submission"})
	if rec.ReferenceID != "m1" || rec.Result != vitalrelay.ResultRecorded {
		t.Fatalf("unexpected reconciliation: %+v", rec)
	}
}

func TestUncorrelatedResponseIsDropped(t *testing.T) {
	h := newHarness()

	rec := h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "nope"})
	var corr *vitalrelay.CorrelationError
	if rec.Result != vitalrelay.ResultUncorrelated || !errors.As(rec.Err, &corr) {
		t.Fatalf("expected correlation failure, got %+v", rec)
	}
	if _, err := h.store.GetResponse(context.Background(), "r1"); !errors.Is(err, vitalrelay.ErrResponseNotFound) {
		t.Fatalf("uncorrelated response was stored: %v", err)
	}
	if h.gateway.ackCount() != 0 {
		t.Fatalf("uncorrelated response was acknowledged")
	}

	rec = h.reconcile(t, wireMessage{ID: "r2", Kind: "vrdr_status"})
	if rec.Result != vitalrelay.ResultUncorrelated {
		t.Fatalf("expected missing reference to be dropped, got %+v", rec)
	}
}

func TestUnparseablePayloadSynthesizesExtractionError(t *testing.T) {
	h := newHarness()
	payload := encode(wireMessage{ID: "bad-1", Record: "BFDR-BIRTH", Broken: true, Cert: 77})

	for i := 0; i < 2; i++ {
		rec, err := h.engine.Reconcile(context.Background(), payload)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		var protocolErr *vitalrelay.ProtocolError
		if rec.Result != vitalrelay.ResultSynthesized || !errors.As(rec.Err, &protocolErr) {
			t.Fatalf("unexpected reconciliation: %+v", rec)
		}
	}

	msgs, err := h.store.ListMessages(context.Background(), vitalrelay.MessageFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one synthesized message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Status != vitalrelay.StatusError || msg.RecordKind != vitalrelay.RecordKindBirth {
		t.Fatalf("unexpected synthesized message: %+v", msg)
	}
	if msg.BusinessKey.CertificateNumber != 77 {
		t.Fatalf("expected business key from header, got %+v", msg.BusinessKey)
	}
	var body wireMessage
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Source != "https://ma.example.org/vital" || body.Ref != "bad-1" {
		t.Fatalf("unexpected synthesized payload: %+v", body)
	}

	report, err := h.engine.ResendOverdue(context.Background())
	if err != nil || report.Selected != 0 {
		t.Fatalf("synthesized error must never be sent: %+v %v", report, err)
	}
}

func TestPayloadWithoutHeaderIsDropped(t *testing.T) {
	h := newHarness()

	rec, err := h.engine.Reconcile(context.Background(), []byte(`<<<`))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Result != vitalrelay.ResultUnparseable {
		t.Fatalf("expected unparseable, got %+v", rec)
	}
}

func TestAckFailureIsCountedNotReturned(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)
	h.gateway.ackStatus = 500

	rec := h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "m1"})
	if rec.Acked {
		t.Fatalf("expected failed acknowledgement")
	}
	if h.metrics.ackFails != 1 {
		t.Fatalf("expected 1 ack failure, got %d", h.metrics.ackFails)
	}

	h.gateway.ackStatus = 202
	rec = h.reconcile(t, wireMessage{ID: "r1", Kind: "vrdr_acknowledgement", Ref: "m1"})
	if rec.Result != vitalrelay.ResultDuplicate || !rec.Acked {
		t.Fatalf("expected redelivery to replay the ack, got %+v", rec)
	}
}

func TestReconcileRetriesStaleTransition(t *testing.T) {
	h := newHarness()
	h.sent(t, "m1", vitalrelay.RecordKindVRDR)
	racing := &racingStore{Store: h.store, race: func() {
		h.reconcile(t, wireMessage{ID: "r0", Kind: "vrdr_acknowledgement", Ref: "m1"})
	}}
	engine := vitalrelay.New(racing, h.store, h.gateway, jsonCodec{}, vitalrelay.WithClock(h.clock))

	rec, err := engine.Reconcile(context.Background(), encode(wireMessage{ID: "r1", Kind: "vrdr_causeofdeath_coding", Ref: "m1"}))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.From != vitalrelay.StatusAcknowledged || rec.To != vitalrelay.StatusAcknowledgedAndCoded {
		t.Fatalf("expected transition from reloaded status, got %+v", rec)
	}
}
