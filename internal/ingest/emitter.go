// Package ingest hands metadata records to the catalog's write endpoints and
// keeps file artifacts of processed batches.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

// Failure is a record the catalog refused.
type Failure struct {
	URN     string `json:"urn"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Report summarises one dispatch.
type Report struct {
	RecordsWritten int           `json:"records_written"`
	Failures       []Failure     `json:"failures"`
	Warnings       []string      `json:"warnings"`
	Latency        time.Duration `json:"-"`
	LatencyMs      int64         `json:"latency_ms"`
}

// Partial reports whether some records were refused.
func (r *Report) Partial() bool {
	return len(r.Failures) > 0
}

// RestEmitter writes records through the GMS REST API.
type RestEmitter struct {
	gmsURL     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// EmitterOption configures a RestEmitter.
type EmitterOption func(*RestEmitter)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) EmitterOption {
	return func(e *RestEmitter) { e.httpClient = hc }
}

// WithLogger sets the emitter logger.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *RestEmitter) { e.logger = logger }
}

// WithMetrics records dispatch statistics into collector.
func WithMetrics(collector *metrics.Collector) EmitterOption {
	return func(e *RestEmitter) { e.metrics = collector }
}

// NewRestEmitter creates an emitter for the GMS at gmsURL.
func NewRestEmitter(gmsURL string, timeout time.Duration, opts ...EmitterOption) *RestEmitter {
	e := &RestEmitter{
		gmsURL:     strings.TrimRight(gmsURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch writes records in order, authenticated with token. Records the
// catalog refuses are listed in the report; a transport failure aborts the
// dispatch with an *UpstreamError alongside the partial report.
func (e *RestEmitter) Dispatch(ctx context.Context, records []models.Record, token string) (*Report, error) {
	start := time.Now()
	report := &Report{Failures: []Failure{}, Warnings: []string{}}
	finish := func() {
		report.Latency = time.Since(start)
		report.LatencyMs = report.Latency.Milliseconds()
		e.metrics.RecordTiming(metrics.OpDispatch, report.Latency)
		e.metrics.RecordDispatch(report.RecordsWritten, len(report.Failures))
	}

	for _, rec := range records {
		path, body, warning, err := restRequest(rec)
		if err != nil {
			finish()
			return report, fmt.Errorf("encode %s: %w", rec.URN(), err)
		}
		if warning != "" {
			e.logger.Warn("skipping record", "urn", rec.URN(), "reason", warning)
			report.Warnings = append(report.Warnings, warning)
			continue
		}

		status, msg, err := e.post(ctx, path, body, token)
		if err != nil {
			finish()
			return report, &UpstreamError{URN: rec.URN(), Err: err}
		}
		if status < 200 || status > 299 {
			e.logger.Warn("catalog refused record", "urn", rec.URN(), "status", status)
			report.Failures = append(report.Failures, Failure{URN: rec.URN(), Status: status, Message: msg})
			continue
		}
		report.RecordsWritten++
	}

	finish()
	return report, nil
}

func (e *RestEmitter) post(ctx context.Context, path string, body []byte, token string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.gmsURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RestLi-Protocol-Version", "2.0.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(msg)), nil
}

// restRequest returns the endpoint path and body for rec, or a warning when
// the record has nothing to write.
func restRequest(rec models.Record) (path string, body []byte, warning string, err error) {
	switch r := rec.(type) {
	case *models.SnapshotRecord:
		if len(r.Aspects) == 0 {
			return "", nil, fmt.Sprintf("%s: snapshot has no aspects", r.EntityURN), nil
		}
		snapshot, err := restSnapshot(r)
		if err != nil {
			return "", nil, "", err
		}
		body, err = json.Marshal(map[string]any{"entity": map[string]any{"value": snapshot}})
		return "/entities?action=ingest", body, "", err
	case *models.ProposalRecord:
		body, err = json.Marshal(map[string]any{"proposal": r})
		return "/aspects?action=ingestProposal", body, "", err
	default:
		return "", nil, fmt.Sprintf("record of kind %s cannot be dispatched", rec.Kind()), nil
	}
}

// restSnapshot re-encodes a snapshot with every avro-namespaced union key
// rewritten to the REST spelling.
func restSnapshot(s *models.SnapshotRecord) (any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return restKeys(generic["proposedSnapshot"]), nil
}

func restKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[models.RestKey(k)] = restKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = restKeys(t[i])
		}
		return t
	default:
		return v
	}
}
