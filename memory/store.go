// Package memory provides an in-process MessageStore and WatermarkStore for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/velmie/vitalrelay"
)

// Store keeps messages, responses and the watermark in memory. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	messages  map[string]vitalrelay.OutboundMessage
	responses map[string]vitalrelay.InboundResponse
	watermark time.Time
}

var (
	_ vitalrelay.MessageStore   = (*Store)(nil)
	_ vitalrelay.WatermarkStore = (*Store)(nil)
	_ vitalrelay.PendingCounter = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		messages:  make(map[string]vitalrelay.OutboundMessage),
		responses: make(map[string]vitalrelay.InboundResponse),
	}
}

func (s *Store) InsertMessage(_ context.Context, msg vitalrelay.OutboundMessage) error {
	id := strings.TrimSpace(msg.ID)
	if id == "" {
		return vitalrelay.ErrMessageIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[id]; exists {
		return vitalrelay.ErrDuplicateMessage
	}
	s.messages[id] = cloneMessage(msg)

	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (vitalrelay.OutboundMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[strings.TrimSpace(id)]
	if !ok {
		return vitalrelay.OutboundMessage{}, vitalrelay.ErrMessageNotFound
	}

	return cloneMessage(msg), nil
}

func (s *Store) ListMessages(_ context.Context, filter vitalrelay.MessageFilter) ([]vitalrelay.OutboundMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vitalrelay.OutboundMessage, 0)
	for _, msg := range s.messages {
		if matches(msg, filter) {
			out = append(out, cloneMessage(msg))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if filter.Newest {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}

			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func matches(msg vitalrelay.OutboundMessage, filter vitalrelay.MessageFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if msg.Status == status {
				found = true

				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.ExpiresBefore.IsZero() && !msg.Overdue(filter.ExpiresBefore) {
		return false
	}
	if filter.RecordKind != "" && msg.RecordKind != filter.RecordKind {
		return false
	}
	if key := filter.BusinessKey; key != nil {
		got := msg.BusinessKey
		if key.StateAuxiliaryID == "" {
			got.StateAuxiliaryID = ""
		}
		if got != *key {
			return false
		}
	}

	return true
}

func (s *Store) UpdateDelivery(_ context.Context, update vitalrelay.DeliveryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[update.ID]
	if !ok {
		return vitalrelay.ErrMessageNotFound
	}
	if msg.Status != update.ExpectStatus || msg.Retries != update.ExpectRetries {
		return vitalrelay.ErrStaleMessage
	}

	msg.Status = update.Status
	msg.Retries = update.Retries
	msg.ExpiresAt = cloneTime(update.ExpiresAt)
	msg.UpdatedAt = update.UpdatedAt
	s.messages[update.ID] = msg

	return nil
}

func (s *Store) GetResponse(_ context.Context, id string) (vitalrelay.InboundResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, ok := s.responses[strings.TrimSpace(id)]
	if !ok {
		return vitalrelay.InboundResponse{}, vitalrelay.ErrResponseNotFound
	}

	return cloneResponse(resp), nil
}

func (s *Store) ListResponses(_ context.Context, filter vitalrelay.ResponseFilter) ([]vitalrelay.InboundResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vitalrelay.InboundResponse, 0)
	for _, resp := range s.responses {
		if filter.ReferenceID != "" && resp.ReferenceID != filter.ReferenceID {
			continue
		}
		out = append(out, cloneResponse(resp))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *Store) RecordResponse(_ context.Context, resp vitalrelay.InboundResponse, transition *vitalrelay.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.responses[resp.ID]; exists {
		return vitalrelay.ErrDuplicateResponse
	}

	if transition != nil {
		msg, ok := s.messages[transition.MessageID]
		if !ok {
			return vitalrelay.ErrMessageNotFound
		}
		if msg.Status != transition.From {
			return vitalrelay.ErrStaleMessage
		}
		msg.Status = transition.To
		msg.UpdatedAt = transition.At
		s.messages[transition.MessageID] = msg
	}
	s.responses[resp.ID] = cloneResponse(resp)

	return nil
}

func (s *Store) PendingCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages {
		if msg.Status == vitalrelay.StatusPending {
			count++
		}
	}

	return count, nil
}

func (s *Store) Watermark(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermark, nil
}

func (s *Store) AdvanceWatermark(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at.After(s.watermark) {
		s.watermark = at.UTC()
	}

	return nil
}

func cloneMessage(msg vitalrelay.OutboundMessage) vitalrelay.OutboundMessage {
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.ExpiresAt = cloneTime(msg.ExpiresAt)

	return msg
}

func cloneResponse(resp vitalrelay.InboundResponse) vitalrelay.InboundResponse {
	resp.Payload = append([]byte(nil), resp.Payload...)

	return resp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t

	return &v
}
