package vitalrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// wireMessage is the test wire format understood by jsonCodec.
type wireMessage struct {
	ID      string `json:"id"`
	Kind    string `json:"kind,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Record  string `json:"record,omitempty"`
	Source  string `json:"source,omitempty"`
	Broken  bool   `json:"broken,omitempty"`
	AckOf   string `json:"ackOf,omitempty"`
	AckKind string `json:"ackKind,omitempty"`
	Cert    uint32 `json:"cert,omitempty"`
}

func encode(msg wireMessage) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	return b
}

type jsonCodec struct{}

func (jsonCodec) ParseHeader(payload []byte) (vitalrelay.Header, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return vitalrelay.Header{}, err
	}
	if msg.ID == "" {
		return vitalrelay.Header{}, errors.New("no header")
	}
	record, _ := vitalrelay.ParseRecordKind(msg.Record)

	return vitalrelay.Header{
		MessageID:   msg.ID,
		Source:      msg.Source,
		RecordKind:  record,
		BusinessKey: vitalrelay.BusinessKey{JurisdictionID: "MA", CertificateNumber: msg.Cert, EventYear: 2024},
	}, nil
}

func (c jsonCodec) ParseResponse(payload []byte) (vitalrelay.Response, error) {
	header, err := c.ParseHeader(payload)
	if err != nil {
		return vitalrelay.Response{}, err
	}
	var msg wireMessage
	_ = json.Unmarshal(payload, &msg)
	if msg.Broken {
		return vitalrelay.Response{}, errors.New("broken body")
	}
	kind, ok := vitalrelay.ParseResponseKind(msg.Kind)
	if !ok {
		return vitalrelay.Response{}, fmt.Errorf("unknown kind %q", msg.Kind)
	}

	return vitalrelay.Response{Header: header, Kind: kind, ResponseIdentifier: msg.Ref, Payload: payload}, nil
}

func (jsonCodec) Acknowledge(resp vitalrelay.Response, record vitalrelay.RecordKind) ([]byte, error) {
	return encode(wireMessage{
		ID:      "ack-" + resp.MessageID,
		AckOf:   resp.MessageID,
		AckKind: vitalrelay.AcknowledgementKind(record).String(),
	}), nil
}

func (jsonCodec) ExtractionError(failed vitalrelay.Header, source string) (vitalrelay.OutboundMessage, error) {
	return vitalrelay.OutboundMessage{
		ID:          "ee-" + failed.MessageID,
		BusinessKey: failed.BusinessKey,
		RecordKind:  failed.RecordKind,
		MessageType: vitalrelay.ExtractionErrorKind(failed.RecordKind).URI(),
		Payload:     encode(wireMessage{ID: "ee-" + failed.MessageID, Ref: failed.MessageID, Source: source}),
	}, nil
}

type sentAck struct {
	payload []byte
	path    string
}

type submitCall struct {
	path string
	ids  []string
}

// fakeGateway scripts per-message HTTP outcomes and records every call.
type fakeGateway struct {
	mu        sync.Mutex
	outcomes  map[string]vitalrelay.Outcome
	submits   []submitCall
	acks      []sentAck
	ackStatus int
	responses [][]byte
	fetchErr  error
	fetches   []time.Time
	submitErr error
	block     chan struct{}
	entered   chan struct{}
	onFetch   func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{outcomes: make(map[string]vitalrelay.Outcome), ackStatus: 202}
}

func (g *fakeGateway) setStatus(id string, status int) {
	g.mu.Lock()
	g.outcomes[id] = vitalrelay.Outcome{StatusCode: status, Attempts: 1}
	g.mu.Unlock()
}

func (g *fakeGateway) setTransportError(id string) {
	g.mu.Lock()
	g.outcomes[id] = vitalrelay.Outcome{Transport: errors.New("connection reset")}
	g.mu.Unlock()
}

func (g *fakeGateway) SubmitBatch(_ context.Context, msgs []vitalrelay.OutboundMessage, path string) ([]vitalrelay.Outcome, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.block != nil {
		<-g.block
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	call := submitCall{path: path}
	out := make([]vitalrelay.Outcome, 0, len(msgs))
	for _, msg := range msgs {
		call.ids = append(call.ids, msg.ID)
		outcome, ok := g.outcomes[msg.ID]
		if !ok {
			outcome = vitalrelay.Outcome{StatusCode: 200, Attempts: 1}
		}
		out = append(out, outcome)
	}
	g.submits = append(g.submits, call)
	if g.submitErr != nil {
		return nil, g.submitErr
	}

	return out, nil
}

func (g *fakeGateway) FetchSince(_ context.Context, since time.Time) ([][]byte, error) {
	if g.onFetch != nil {
		g.onFetch()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.fetches = append(g.fetches, since)
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	out := g.responses
	g.responses = nil

	return out, nil
}

func (g *fakeGateway) SendAck(_ context.Context, ack []byte, path string) (vitalrelay.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.acks = append(g.acks, sentAck{payload: ack, path: path})

	return vitalrelay.Outcome{StatusCode: g.ackStatus, Attempts: 1}, nil
}

func (g *fakeGateway) queue(payloads ...[]byte) {
	g.mu.Lock()
	g.responses = append(g.responses, payloads...)
	g.mu.Unlock()
}

func (g *fakeGateway) submitted() []submitCall {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]submitCall(nil), g.submits...)
}

func (g *fakeGateway) ackCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.acks)
}

type countingMetrics struct {
	vitalrelay.NopMetrics
	mu         sync.Mutex
	skipped    int
	duplicates int
	pending    int
	ackFails   int
}

func (m *countingMetrics) AddSkippedTicks(n int) {
	m.mu.Lock()
	m.skipped += n
	m.mu.Unlock()
}

func (m *countingMetrics) AddDuplicates(n int) {
	m.mu.Lock()
	m.duplicates += n
	m.mu.Unlock()
}

func (m *countingMetrics) AddAckFailures(n int) {
	m.mu.Lock()
	m.ackFails += n
	m.mu.Unlock()
}

func (m *countingMetrics) SetPending(n int) {
	m.mu.Lock()
	m.pending = n
	m.mu.Unlock()
}

// racingStore runs race once before the first RecordResponse, simulating an overlapping tick.
type racingStore struct {
	*memory.Store
	race func()
	once sync.Once
}

func (s *racingStore) RecordResponse(ctx context.Context, resp vitalrelay.InboundResponse, transition *vitalrelay.Transition) error {
	s.once.Do(s.race)

	return s.Store.RecordResponse(ctx, resp, transition)
}
