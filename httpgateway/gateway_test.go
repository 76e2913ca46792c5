package httpgateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/fhir"
	"github.com/velmie/vitalrelay/httpgateway"
	"github.com/velmie/vitalrelay/memory"
)

type batchRequest struct {
	Type  string `json:"type"`
	Entry []struct {
		Resource struct {
			ID string `json:"id"`
		} `json:"resource"`
	} `json:"entry"`
}

func batchResponse(statuses ...string) string {
	entries := make([]map[string]any, len(statuses))
	for i, s := range statuses {
		entries[i] = map[string]any{"response": map[string]string{"status": s}}
	}
	b, _ := json.Marshal(map[string]any{"resourceType": "Bundle", "type": "batch-response", "entry": entries})

	return string(b)
}

func messages(n int) []vitalrelay.OutboundMessage {
	out := make([]vitalrelay.OutboundMessage, n)
	for i := range out {
		id := fmt.Sprintf("m%d", i)
		out[i] = vitalrelay.OutboundMessage{
			ID:      id,
			Payload: []byte(fmt.Sprintf(`{"resourceType":"Bundle","id":%q,"type":"message"}`, id)),
		}
	}

	return out
}

func TestSubmitBatchChunksAndMapsStatuses(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []batchRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/MA/Bundle/VRDR/VRDR_STU3_0", r.URL.Path)
		require.Equal(t, "application/fhir+json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer local", r.Header.Get("Authorization"))

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		batches = append(batches, req)
		mu.Unlock()

		statuses := make([]string, len(req.Entry))
		for i, e := range req.Entry {
			statuses[i] = "201 Created"
			if e.Resource.ID == "m3" {
				statuses[i] = "400 Bad Request"
			}
		}
		_, _ = io.WriteString(w, batchResponse(statuses...))
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL+"/MA/", httpgateway.WithTokenSource(httpgateway.StaticToken("local")))
	require.NoError(t, err)

	outcomes, err := gw.SubmitBatch(context.Background(), messages(25), "VRDR/VRDR_STU3_0")
	require.NoError(t, err)
	require.Len(t, outcomes, 25)
	require.Len(t, batches, 2)
	require.Equal(t, "batch", batches[0].Type)
	require.Len(t, batches[0].Entry, 20)
	require.Len(t, batches[1].Entry, 5)
	require.Equal(t, "m20", batches[1].Entry[0].Resource.ID)

	for i, o := range outcomes {
		if i == 3 {
			require.Equal(t, 400, o.StatusCode)
			var rejected *vitalrelay.RejectedError
			require.ErrorAs(t, o.Err(), &rejected)
			continue
		}
		require.True(t, o.Success(), "message %d: %+v", i, o)
		require.Equal(t, 1, o.Attempts)
	}
}

func TestSubmitBatchLeavesOutInvalidPayloads(t *testing.T) {
	var posted []batchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		posted = append(posted, req)
		statuses := make([]string, len(req.Entry))
		for i := range statuses {
			statuses[i] = "201 Created"
		}
		_, _ = io.WriteString(w, batchResponse(statuses...))
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL)
	require.NoError(t, err)

	msgs := messages(3)
	msgs[1].Payload = []byte("not-json")
	outcomes, err := gw.SubmitBatch(context.Background(), msgs, "VRDR/VRDR_STU3_0")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	require.Len(t, posted, 1)
	require.Len(t, posted[0].Entry, 2)
	require.Equal(t, "m2", posted[0].Entry[1].Resource.ID)

	require.True(t, outcomes[0].Success())
	require.True(t, outcomes[2].Success())
	require.ErrorIs(t, outcomes[1].Invalid, httpgateway.ErrInvalidPayload)
	var rejected *vitalrelay.RejectedError
	require.ErrorAs(t, outcomes[1].Err(), &rejected)
}

func TestSubmitBatchAllInvalidSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL)
	require.NoError(t, err)

	msgs := messages(2)
	for i := range msgs {
		msgs[i].Payload = []byte("<Bundle/>")
	}
	outcomes, err := gw.SubmitBatch(context.Background(), msgs, "VRDR/VRDR_STU3_0")
	require.NoError(t, err)
	require.Zero(t, calls.Load())
	for _, o := range outcomes {
		require.ErrorIs(t, o.Invalid, httpgateway.ErrInvalidPayload)
	}
}

func TestEngineDeliversBesideUnsendablePayload(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		posts.Add(1)
		require.Len(t, req.Entry, 1)
		_, _ = io.WriteString(w, batchResponse("201 Created"))
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL)
	require.NoError(t, err)
	store := memory.NewStore()
	engine := vitalrelay.New(store, store, gw, fhir.New())

	ctx := context.Background()
	good, err := engine.Enqueue(ctx, vitalrelay.Entry{
		ID:         "good",
		RecordKind: vitalrelay.RecordKindVRDR,
		Payload:    []byte(`{"resourceType":"Bundle","id":"good","type":"message"}`),
	})
	require.NoError(t, err)
	bad, err := engine.Enqueue(ctx, vitalrelay.Entry{
		ID:         "bad",
		RecordKind: vitalrelay.RecordKindVRDR,
		Payload:    []byte("not-json"),
	})
	require.NoError(t, err)

	report, err := engine.SubmitNewMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Selected)
	require.Equal(t, 1, report.Delivered)
	require.Equal(t, 1, report.Rejected)
	require.Equal(t, int32(1), posts.Load())

	got, err := store.GetMessage(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, vitalrelay.StatusSent, got.Status)
	got, err = store.GetMessage(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, vitalrelay.StatusError, got.Status)

	report, err = engine.SubmitNewMessages(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Selected)
}

func TestSubmitBatchFailedRequestFillsEveryOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL, httpgateway.WithBatchSize(2))
	require.NoError(t, err)

	outcomes, err := gw.SubmitBatch(context.Background(), messages(3), "VRDR/VRDR_STU3_0")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		require.Equal(t, http.StatusServiceUnavailable, o.StatusCode)
		var delivery *vitalrelay.DeliveryError
		require.ErrorAs(t, o.Err(), &delivery)
	}
}

func TestSubmitBatchStatusCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, batchResponse("201 Created"))
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL)
	require.NoError(t, err)

	outcomes, err := gw.SubmitBatch(context.Background(), messages(2), "p")
	require.NoError(t, err)
	for _, o := range outcomes {
		require.False(t, o.Success())
		require.Error(t, o.Transport)
	}
}

func TestSubmitBatchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	gw, err := httpgateway.New(srv.URL, httpgateway.WithTimeout(time.Second))
	require.NoError(t, err)

	outcomes, err := gw.SubmitBatch(context.Background(), messages(2), "p")
	require.NoError(t, err)
	for _, o := range outcomes {
		require.Equal(t, 0, o.Attempts)
		var transport *vitalrelay.TransportError
		require.ErrorAs(t, o.Err(), &transport)
	}
}

type countingTokens struct {
	issued      atomic.Int32
	invalidated atomic.Int32
}

func (c *countingTokens) Token(context.Context) (string, error) {
	return fmt.Sprintf("tok-%d", c.issued.Add(1)), nil
}

func (c *countingTokens) Invalidate() {
	c.invalidated.Add(1)
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens := &countingTokens{}
	gw, err := httpgateway.New(srv.URL, httpgateway.WithTokenSource(tokens))
	require.NoError(t, err)

	outcome, err := gw.SendAck(context.Background(), []byte(`{}`), "VRDR/VRDR_STU3_0")
	require.NoError(t, err)
	require.True(t, outcome.Success())
	require.Equal(t, 2, outcome.Attempts)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestUnauthorizedTwiceSurfacesAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL, httpgateway.WithTokenSource(&countingTokens{}))
	require.NoError(t, err)

	outcomes, err := gw.SubmitBatch(context.Background(), messages(1), "p")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	var auth *vitalrelay.AuthError
	require.ErrorAs(t, outcomes[0].Err(), &auth)
	require.Equal(t, 2, auth.Attempts)
}

func TestUnauthorizedWithoutCredentialsIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL)
	require.NoError(t, err)

	outcome, err := gw.SendAck(context.Background(), []byte(`{}`), "p")
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchSinceFollowsPages(t *testing.T) {
	since := time.Date(2024, 6, 1, 10, 0, 0, 500, time.UTC)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/MA/Bundle", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "":
			require.Equal(t, "2024-06-01T10:00:00.0000005Z", r.URL.Query().Get("_since"))
			fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset",
				"link":[{"relation":"next","url":"%s/MA/Bundle?_since=x&page=2"}],
				"entry":[{"resource":{"id":"r1"}},{"resource":{"id":"r2"}}]}`, srv.URL)
		case "2":
			_, _ = io.WriteString(w, `{"resourceType":"Bundle","type":"searchset","entry":[{"resource":{"id":"r3"}}]}`)
		default:
			t.Fatalf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	gw, err := httpgateway.New(srv.URL + "/MA")
	require.NoError(t, err)

	got, err := gw.FetchSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.JSONEq(t, `{"id":"r3"}`, string(got[2]))
}

func TestFetchSinceFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		gw, err := httpgateway.New(srv.URL)
		require.NoError(t, err)
		_, err = gw.FetchSince(context.Background(), time.Time{})
		var delivery *vitalrelay.DeliveryError
		require.ErrorAs(t, err, &delivery)
	})

	t.Run("loop", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset","link":[{"relation":"next","url":"%s/Bundle?page=1"}]}`, srv.URL)
		}))
		defer srv.Close()

		gw, err := httpgateway.New(srv.URL)
		require.NoError(t, err)
		_, err = gw.FetchSince(context.Background(), time.Time{})
		require.ErrorIs(t, err, httpgateway.ErrPageLoop)
	})

	t.Run("foreign link", func(t *testing.T) {
		var foreignHits atomic.Int32
		foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			foreignHits.Add(1)
		}))
		defer foreign.Close()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset","link":[{"relation":"next","url":"%s/MA/Bundle?page=2"}]}`, foreign.URL)
		}))
		defer srv.Close()

		gw, err := httpgateway.New(srv.URL+"/MA", httpgateway.WithTokenSource(httpgateway.StaticToken("secret")))
		require.NoError(t, err)
		_, err = gw.FetchSince(context.Background(), time.Time{})
		require.ErrorIs(t, err, httpgateway.ErrForeignPageLink)
		require.Zero(t, foreignHits.Load())
	})

	t.Run("link outside base path", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset","link":[{"relation":"next","url":"%s/MB/Bundle?page=2"}]}`, srv.URL)
		}))
		defer srv.Close()

		gw, err := httpgateway.New(srv.URL + "/MA")
		require.NoError(t, err)
		_, err = gw.FetchSince(context.Background(), time.Time{})
		require.ErrorIs(t, err, httpgateway.ErrForeignPageLink)
	})

	t.Run("body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `not json`)
		}))
		defer srv.Close()

		gw, err := httpgateway.New(srv.URL)
		require.NoError(t, err)
		_, err = gw.FetchSince(context.Background(), time.Time{})
		require.Error(t, err)
	})
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := httpgateway.New("  ")
	require.ErrorIs(t, err, httpgateway.ErrBaseURLRequired)
}
