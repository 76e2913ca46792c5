package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/fhir"
)

const contentType = "application/fhir+json"

// Gateway implements vitalrelay.Gateway against the FHIR messaging API.
type Gateway struct {
	cfg     Config
	base    string
	baseURL *url.URL
}

var _ vitalrelay.Gateway = (*Gateway)(nil)

// New constructs a gateway for baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	cfg := Config{BaseURL: baseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay http: invalid base url: %w", err)
	}
	if cfg.Client == nil {
		cfg.Client = InstrumentedClient(cfg.Timeout)
	}

	return &Gateway{cfg: cfg, base: base, baseURL: parsed}, nil
}

// InstrumentedClient returns an HTTP client traced with OpenTelemetry.
func InstrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// SubmitBatch posts msgs to path in batches and maps every batch entry status onto its message.
// A message whose payload is not JSON is reported Invalid and left out of its batch. A failed batch
// request reports the same outcome for every message sent in it.
func (g *Gateway) SubmitBatch(ctx context.Context, msgs []vitalrelay.OutboundMessage, path string) ([]vitalrelay.Outcome, error) {
	outcomes := make([]vitalrelay.Outcome, 0, len(msgs))
	for start := 0; start < len(msgs); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(msgs))
		outcomes = append(outcomes, g.submitChunk(ctx, msgs[start:end], path)...)
	}

	return outcomes, nil
}

func (g *Gateway) submitChunk(ctx context.Context, msgs []vitalrelay.OutboundMessage, path string) []vitalrelay.Outcome {
	out := make([]vitalrelay.Outcome, len(msgs))
	sendable := make([]int, 0, len(msgs))
	payloads := make([][]byte, 0, len(msgs))
	for i, msg := range msgs {
		if !json.Valid(msg.Payload) {
			out[i] = vitalrelay.Outcome{Invalid: fmt.Errorf("%w: message %s", ErrInvalidPayload, msg.ID)}
			g.cfg.Logger.Warn("vitalrelay message payload not sendable", "path", path, "message_id", msg.ID)

			continue
		}
		sendable = append(sendable, i)
		payloads = append(payloads, msg.Payload)
	}
	if len(sendable) == 0 {
		return out
	}

	fill := func(o vitalrelay.Outcome) []vitalrelay.Outcome {
		for _, i := range sendable {
			out[i] = o
		}

		return out
	}

	body, err := fhir.BatchBundle(payloads)
	if err != nil {
		return fill(vitalrelay.Outcome{Transport: err})
	}

	res := g.do(ctx, http.MethodPost, g.bundleURL(path), body)
	if res.err != nil || res.status < 200 || res.status >= 300 {
		g.cfg.Logger.Warn("vitalrelay batch post failed", "path", path, "count", len(sendable), "status", res.status, "err", res.err)

		return fill(res.outcome())
	}

	statuses, err := fhir.BatchStatuses(res.body)
	if err == nil && len(statuses) != len(sendable) {
		err = fmt.Errorf("%w: %d statuses for %d messages", fhir.ErrNotBatchResponse, len(statuses), len(sendable))
	}
	if err != nil {
		g.cfg.Logger.Warn("vitalrelay batch response unreadable", "path", path, "count", len(sendable), "err", err)

		return fill(vitalrelay.Outcome{StatusCode: res.status, Attempts: res.attempts, Transport: err})
	}

	for j, status := range statuses {
		i := sendable[j]
		out[i] = vitalrelay.Outcome{StatusCode: status, Attempts: res.attempts}
		if status == 0 {
			out[i].Transport = fmt.Errorf("%w: message %s", ErrMissingEntryStatus, msgs[i].ID)
		}
	}
	g.cfg.Logger.Debug("vitalrelay batch posted", "path", path, "count", len(sendable))

	return out
}

// FetchSince reads every response created after since, following next links.
func (g *Gateway) FetchSince(ctx context.Context, since time.Time) ([][]byte, error) {
	query := url.Values{"_since": []string{since.UTC().Format(time.RFC3339Nano)}}
	next := g.base + "/Bundle?" + query.Encode()

	var (
		messages [][]byte
		seen     = make(map[string]struct{})
	)
	for page := 0; next != ""; page++ {
		if page == g.cfg.MaxPages {
			return nil, fmt.Errorf("vitalrelay http: more than %d response pages", g.cfg.MaxPages)
		}
		if _, ok := seen[next]; ok {
			return nil, fmt.Errorf("%w: %s", ErrPageLoop, next)
		}
		seen[next] = struct{}{}

		res := g.do(ctx, http.MethodGet, next, nil)
		if err := res.outcome().Err(); err != nil {
			return nil, fmt.Errorf("vitalrelay http: fetch responses: %w", err)
		}
		batch, link, err := fhir.SearchPage(res.body)
		if err != nil {
			return nil, fmt.Errorf("vitalrelay http: fetch responses: %w", err)
		}
		messages = append(messages, batch...)
		if next, err = g.pageLink(link); err != nil {
			return nil, err
		}
	}
	g.cfg.Logger.Debug("vitalrelay responses fetched", "since", since, "count", len(messages))

	return messages, nil
}

// pageLink resolves a next link against the base URL and refuses links that leave it, since every
// request carries the bearer token.
func (g *Gateway) pageLink(link string) (string, error) {
	if link == "" {
		return "", nil
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignPageLink, err)
	}
	u := g.baseURL.ResolveReference(ref)
	prefix := strings.TrimRight(g.baseURL.Path, "/")
	if u.Scheme != g.baseURL.Scheme || u.Host != g.baseURL.Host ||
		(u.Path != prefix && !strings.HasPrefix(u.Path, prefix+"/")) {
		return "", fmt.Errorf("%w: %s", ErrForeignPageLink, u.Redacted())
	}

	return u.String(), nil
}

// SendAck posts one acknowledgement to path.
func (g *Gateway) SendAck(ctx context.Context, ack []byte, path string) (vitalrelay.Outcome, error) {
	return g.do(ctx, http.MethodPost, g.bundleURL(path), ack).outcome(), nil
}

func (g *Gateway) bundleURL(path string) string {
	return g.base + "/Bundle/" + strings.Trim(path, "/")
}

type result struct {
	status   int
	body     []byte
	attempts int
	err      error
}

func (r result) outcome() vitalrelay.Outcome {
	return vitalrelay.Outcome{StatusCode: r.status, Attempts: r.attempts, Transport: r.err}
}

// do performs one request, refreshing credentials and repeating it once after a 401. attempts
// counts the responses received.
func (g *Gateway) do(ctx context.Context, method, target string, body []byte) result {
	var res result
	for {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			res.err = err

			return res
		}
		req.Header.Set("Accept", contentType)
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if g.cfg.Tokens != nil {
			token, err := g.cfg.Tokens.Token(ctx)
			if err != nil {
				res.err = err

				return res
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := g.cfg.Client.Do(req)
		if err != nil {
			res.err = err

			return res
		}
		res.attempts++
		res.status = resp.StatusCode
		res.body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			res.err = fmt.Errorf("vitalrelay http: read response: %w", err)

			return res
		}

		if resp.StatusCode == http.StatusUnauthorized && g.cfg.Tokens != nil && res.attempts == 1 {
			g.cfg.Logger.Info("vitalrelay token rejected, refreshing", "url", target)
			g.cfg.Tokens.Invalidate()

			continue
		}

		return res
	}
}
