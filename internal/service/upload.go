package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/checklist"
	"github.com/raphaelgruber/datahub-gate/internal/classify"
	"github.com/raphaelgruber/datahub-gate/internal/ingest"
	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/raphaelgruber/datahub-gate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Dispatcher hands records to the catalog.
type Dispatcher interface {
	Dispatch(ctx context.Context, records []models.Record, token string) (*ingest.Report, error)
}

// TokenMinter mints credentials that let the services act as a user.
type TokenMinter interface {
	Mint(actorID string) (string, error)
}

// UploadService runs uploaded batches through validation, ownership patching
// and dispatch.
type UploadService struct {
	oracle          checklist.Oracle
	validator       *Validator
	patcher         *Patcher
	dispatcher      Dispatcher
	tokens          TokenMinter
	sink            *ingest.FileSink
	dispatchTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Collector
}

// UploadOptions carries the optional collaborators of an UploadService.
type UploadOptions struct {
	// Sink keeps artifacts of accepted batches when set.
	Sink            *ingest.FileSink
	DispatchTimeout time.Duration
	OwnerType       string
	Logger          *slog.Logger
	Metrics         *metrics.Collector
}

// NewUploadService creates an upload service.
func NewUploadService(oracle checklist.Oracle, dispatcher Dispatcher, tokens TokenMinter, opts UploadOptions) *UploadService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadService{
		oracle:          oracle,
		validator:       NewValidator(oracle, logger, opts.Metrics),
		patcher:         NewPatcher(opts.OwnerType),
		dispatcher:      dispatcher,
		tokens:          tokens,
		sink:            opts.Sink,
		dispatchTimeout: opts.DispatchTimeout,
		logger:          logger,
		metrics:         opts.Metrics,
	}
}

// UploadResult reports what happened to an uploaded batch.
type UploadResult struct {
	User     string  `json:"user"`
	Accepted bool    `json:"accepted"`
	Verdict  Verdict `json:"verdict"`
	// OwnershipAdded lists the urns the submitter was granted ownership of.
	OwnershipAdded []string         `json:"ownership_added"`
	Dispatch       *ingest.Report   `json:"dispatch,omitempty"`
	Artifact       *ingest.Artifact `json:"artifact,omitempty"`
	ElapsedMs      int64            `json:"elapsed_ms"`
}

// Partial reports whether the catalog refused some of the records.
func (r *UploadResult) Partial() bool {
	return r.Dispatch != nil && r.Dispatch.Partial()
}

// Upload validates data, a JSON array of metadata records submitted by
// userID, and dispatches it when accepted. A rejected batch is not an error:
// the result carries the verdict. Errors are ErrInvalidRequest,
// ErrUserNotFound, or a dispatch failure (ingest.ErrUpstream for transport
// problems).
func (s *UploadService) Upload(ctx context.Context, userID string, data []byte) (*UploadResult, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "upload")
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	userURN := models.MakeUserURN(userID)
	span.SetAttributes(attribute.String("user", userURN), attribute.Int("bytes", len(data)))
	log := s.logger.With("user", userURN)

	if !s.oracle.EntityExists(ctx, userURN) {
		log.Warn("upload from unknown user")
		span.SetStatus(codes.Error, "user not found")
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userURN)
	}

	result, err := s.upload(ctx, log, userURN, data)
	if result != nil {
		result.ElapsedMs = time.Since(start).Milliseconds()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordFailure(metrics.OpUpload, time.Since(start))
		return result, err
	}
	s.metrics.RecordTiming(metrics.OpUpload, time.Since(start))
	return result, nil
}

func (s *UploadService) upload(ctx context.Context, log *slog.Logger, userURN string, data []byte) (*UploadResult, error) {
	validation := s.validate(ctx, userURN, data)
	result := &UploadResult{
		User:           userURN,
		Accepted:       validation.Verdict.Accepted,
		Verdict:        validation.Verdict,
		OwnershipAdded: []string{},
	}
	if !validation.Verdict.Accepted {
		s.metrics.RecordVerdict(false, 0)
		log.Info("batch rejected", "entities", validation.Checklist.Len(), "report", validation.Verdict.Report)
		return result, nil
	}

	patches, err := s.patcher.Patch(validation.Checklist)
	if err != nil {
		return result, err
	}
	for _, p := range patches {
		result.OwnershipAdded = append(result.OwnershipAdded, p.EntityURN)
	}
	s.metrics.RecordVerdict(true, len(patches))
	records := Apply(validation.Records, patches)

	if s.sink != nil {
		art, err := s.sink.Write(userURN, records, validation.Checklist)
		if err != nil {
			log.Error("failed to write batch artifact", "error", err)
		} else {
			result.Artifact = art
		}
	}

	report, err := s.dispatch(ctx, userURN, records)
	result.Dispatch = report
	if err != nil {
		log.Error("dispatch failed", "records", len(records), "error", err)
		return result, err
	}
	if report.Partial() {
		log.Warn("catalog refused records", "failures", len(report.Failures), "records", len(records))
	} else {
		log.Info("batch ingested", "records", len(records), "ownership_added", len(patches), "duration_ms", report.LatencyMs)
	}
	return result, nil
}

func (s *UploadService) validate(ctx context.Context, userURN string, data []byte) *Validation {
	ctx, span := telemetry.Tracer().Start(ctx, "upload.validate")
	defer span.End()

	entries, err := classify.ParseBatch(data)
	if err != nil {
		return s.validator.Reject(userURN, err.Error())
	}
	span.SetAttributes(attribute.Int("records", len(entries)))
	return s.validator.Validate(ctx, userURN, entries)
}

func (s *UploadService) dispatch(ctx context.Context, userURN string, records []models.Record) (*ingest.Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "upload.dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	bearer, err := s.tokens.Mint(models.UserID(userURN))
	if err != nil {
		return nil, fmt.Errorf("mint dispatch token: %w", err)
	}

	if s.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dispatchTimeout)
		defer cancel()
	}
	report, err := s.dispatcher.Dispatch(ctx, records, bearer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}
