package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/vitalrelay"
)

func message(id string, status vitalrelay.Status, created time.Time) vitalrelay.OutboundMessage {
	return vitalrelay.OutboundMessage{
		ID:         id,
		RecordKind: vitalrelay.RecordKindVRDR,
		Payload:    []byte(`{}`),
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.InsertMessage(ctx, message("m1", vitalrelay.StatusPending, now)))
	require.ErrorIs(t, store.InsertMessage(ctx, message("m1", vitalrelay.StatusPending, now)), vitalrelay.ErrDuplicateMessage)

	_, err := store.GetMessage(ctx, "missing")
	require.ErrorIs(t, err, vitalrelay.ErrMessageNotFound)
}

func TestListMessagesFilters(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	past := base.Add(-time.Minute)
	future := base.Add(time.Minute)

	sent := message("sent", vitalrelay.StatusSent, base)
	sent.ExpiresAt = &past
	fresh := message("fresh", vitalrelay.StatusSent, base.Add(time.Second))
	fresh.ExpiresAt = &future
	acked := message("acked", vitalrelay.StatusAcknowledged, base.Add(2*time.Second))
	acked.ExpiresAt = &past
	pending := message("pending", vitalrelay.StatusPending, base.Add(3*time.Second))

	for _, msg := range []vitalrelay.OutboundMessage{sent, fresh, acked, pending} {
		require.NoError(t, store.InsertMessage(ctx, msg))
	}

	overdue, err := store.ListMessages(ctx, vitalrelay.MessageFilter{
		Statuses:      vitalrelay.ResendableStatuses(),
		ExpiresBefore: base,
	})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, "sent", overdue[0].ID)

	implied, err := store.ListMessages(ctx, vitalrelay.MessageFilter{ExpiresBefore: base})
	require.NoError(t, err)
	require.Len(t, implied, 1)
	require.Equal(t, "sent", implied[0].ID)

	newest, err := store.ListMessages(ctx, vitalrelay.MessageFilter{Newest: true, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"pending", "acked"}, []string{newest[0].ID, newest[1].ID})

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestListMessagesByBusinessKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, aux := range []string{"A1", "A2"} {
		msg := message(aux, vitalrelay.StatusSent, base.Add(time.Duration(i)*time.Minute))
		msg.BusinessKey = vitalrelay.BusinessKey{JurisdictionID: "MA", CertificateNumber: 42, EventYear: 2024, StateAuxiliaryID: aux}
		require.NoError(t, store.InsertMessage(ctx, msg))
	}

	key := vitalrelay.BusinessKey{JurisdictionID: "MA", CertificateNumber: 42, EventYear: 2024}
	got, err := store.ListMessages(ctx, vitalrelay.MessageFilter{BusinessKey: &key, Newest: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "A2", got[0].ID)

	key.StateAuxiliaryID = "A1"
	got, err = store.ListMessages(ctx, vitalrelay.MessageFilter{BusinessKey: &key})
	require.NoError(t, err)
	require.Len(t, got, 1)

	key.EventYear = 2023
	got, err = store.ListMessages(ctx, vitalrelay.MessageFilter{BusinessKey: &key})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestUpdateDeliveryIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.InsertMessage(ctx, message("m1", vitalrelay.StatusPending, now)))

	expires := now.Add(time.Hour)
	update := vitalrelay.DeliveryUpdate{
		ID:            "m1",
		ExpectStatus:  vitalrelay.StatusPending,
		ExpectRetries: 0,
		Status:        vitalrelay.StatusSent,
		ExpiresAt:     &expires,
		UpdatedAt:     now,
	}
	require.NoError(t, store.UpdateDelivery(ctx, update))
	require.ErrorIs(t, store.UpdateDelivery(ctx, update), vitalrelay.ErrStaleMessage)

	got, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, vitalrelay.StatusSent, got.Status)
	require.True(t, got.ExpiresAt.Equal(expires))
}

func TestRecordResponseAppliesTransitionAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.InsertMessage(ctx, message("m1", vitalrelay.StatusSent, now)))

	resp := vitalrelay.InboundResponse{ID: "r1", ReferenceID: "m1", Kind: vitalrelay.KindAcknowledgement, CreatedAt: now}
	stale := &vitalrelay.Transition{MessageID: "m1", From: vitalrelay.StatusPending, To: vitalrelay.StatusAcknowledged, At: now}
	require.ErrorIs(t, store.RecordResponse(ctx, resp, stale), vitalrelay.ErrStaleMessage)

	_, err := store.GetResponse(ctx, "r1")
	require.ErrorIs(t, err, vitalrelay.ErrResponseNotFound)

	ok := &vitalrelay.Transition{MessageID: "m1", From: vitalrelay.StatusSent, To: vitalrelay.StatusAcknowledged, At: now}
	require.NoError(t, store.RecordResponse(ctx, resp, ok))
	require.ErrorIs(t, store.RecordResponse(ctx, resp, nil), vitalrelay.ErrDuplicateResponse)

	got, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, vitalrelay.StatusAcknowledged, got.Status)

	listed, err := store.ListResponses(ctx, vitalrelay.ResponseFilter{ReferenceID: "m1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	mark, err := store.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, mark.IsZero())

	later := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AdvanceWatermark(ctx, later))
	require.NoError(t, store.AdvanceWatermark(ctx, later.Add(-time.Hour)))

	mark, err = store.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, mark.Equal(later))
}
