package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/velmie/vitalrelay/config"
)

// remoteAPI fakes the national API: searches return an empty searchset and batches are accepted
// entry by entry.
type remoteAPI struct {
	*httptest.Server

	mu     sync.Mutex
	polls  int
	posts  []string
	polled chan struct{}
}

func newRemoteAPI(t *testing.T) *remoteAPI {
	t.Helper()

	api := &remoteAPI{polled: make(chan struct{}, 16)}
	api.Server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.Close)

	return api
}

func (a *remoteAPI) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/fhir+json")

	if r.Method == http.MethodGet {
		a.mu.Lock()
		a.polls++
		a.mu.Unlock()
		select {
		case a.polled <- struct{}{}:
		default:
		}
		_, _ = io.WriteString(w, `{"resourceType":"Bundle","type":"searchset","entry":[]}`)

		return
	}

	var bundle struct {
		Type  string            `json:"type"`
		Entry []json.RawMessage `json:"entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.posts = append(a.posts, r.URL.Path)
	a.mu.Unlock()

	if bundle.Type != "batch" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	entries := make([]string, len(bundle.Entry))
	for i := range entries {
		entries[i] = `{"response":{"status":"201 Created"}}`
	}
	_, _ = fmt.Fprintf(w, `{"resourceType":"Bundle","type":"batch-response","entry":[%s]}`, strings.Join(entries, ","))
}

func (a *remoteAPI) pollCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.polls
}

func (a *remoteAPI) postedPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.posts...)
}

func writeConfig(t *testing.T, apiURL, extra string) string {
	t.Helper()

	body := fmt.Sprintf(`jurisdiction_endpoint: https://jurisdiction.example.org/nvss
polling_interval: 3600
gateway:
  base_url: %s
  local_testing: true
server:
  addr: 127.0.0.1:0
log:
  level: debug
%s`, apiURL, extra)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func execute(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)

	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(context.Background(), "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(out, "CREATE TABLE IF NOT EXISTS outbound_messages") || !strings.Contains(out, "LONGBLOB") {
		t.Fatalf("mysql schema output = %q", out)
	}

	out, err = execute(context.Background(), "schema", "--driver", "postgres", "--message-table", "relay.outbound")
	if err != nil {
		t.Fatalf("schema postgres: %v", err)
	}
	if !strings.Contains(out, "CREATE TABLE IF NOT EXISTS relay.outbound") || !strings.Contains(out, "BYTEA") {
		t.Fatalf("postgres schema output = %q", out)
	}

	if _, err := execute(context.Background(), "schema", "--driver", "sqlite"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := execute(context.Background(), "schema", "--message-table", "bad-name"); err == nil {
		t.Fatalf("expected error for invalid table name")
	}
}

func TestConfigCommandMasksSecrets(t *testing.T) {
	out, err := execute(context.Background(), "config", "--config", "../../config/testdata/relay.yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "hunter2") || strings.Contains(out, "client-secret") {
		t.Fatalf("secrets leaked: %s", out)
	}
	if !strings.Contains(out, "******") || !strings.Contains(out, "base_url: https://api.example.org/NVSSFHIRAPI/MA") {
		t.Fatalf("unexpected config output: %s", out)
	}
}

func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("jurisdiction_endpoint: not-a-url\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := execute(context.Background(), "config", "--config", path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestTickCommandPollsRemote(t *testing.T) {
	api := newRemoteAPI(t)
	path := writeConfig(t, api.URL, "")

	if _, err := execute(context.Background(), "tick", "--config", path); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := api.pollCount(); got != 1 {
		t.Fatalf("polls = %d, want 1", got)
	}
	if posts := api.postedPaths(); len(posts) != 0 {
		t.Fatalf("unexpected posts %v", posts)
	}
}

func TestTickCommandReportsPhaseFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(api.Close)
	path := writeConfig(t, api.URL, "")

	if _, err := execute(context.Background(), "tick", "--config", path); err == nil {
		t.Fatalf("expected poll failure")
	}
}

func TestRunCommandStopsOnCancel(t *testing.T) {
	api := newRemoteAPI(t)
	path := writeConfig(t, api.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, "run", "--config", path)
		done <- err
	}()

	select {
	case <-api.polled:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("relay never polled")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestCleanupCommandRequiresMySQL(t *testing.T) {
	api := newRemoteAPI(t)
	path := writeConfig(t, api.URL, "")

	_, err := execute(context.Background(), "cleanup", "--config", path, "--once")
	if !errors.Is(err, errCleanupUnsupported) {
		t.Fatalf("cleanup err = %v, want %v", err, errCleanupUnsupported)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "message_id", "m1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"message_id":"m1"`) {
		t.Fatalf("expected json output, got %s", out)
	}

	buf.Reset()
	logger = newLogger(config.Log{Level: "debug", Format: "text"}, &buf)
	logger.Debug("detail", "kind", "vrdr_acknowledgement")
	if !strings.Contains(buf.String(), "kind=vrdr_acknowledgement") {
		t.Fatalf("expected text output, got %s", buf.String())
	}
}
