package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/checklist"
	"github.com/raphaelgruber/datahub-gate/internal/ingest"
	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/raphaelgruber/datahub-gate/internal/telemetry"
	"github.com/raphaelgruber/datahub-gate/internal/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Event names reported back to the caller.
const (
	EventBrowsePath    = "UI Update Browsepath"
	EventSchema        = "UI Update Schema"
	EventProperties    = "UI Update Properties"
	EventContainer     = "UI Update Container"
	EventName          = "UI Update Name"
	EventCreateDataset = "Create Dataset"
	EventProfile       = "Update Dataset Profile"
)

// EventStatus names a status update.
func EventStatus(removed bool) string {
	return fmt.Sprintf("Status Update removed:%t", removed)
}

// TokenVerifier checks credentials presented by callers.
type TokenVerifier interface {
	Verify(raw, actorID string) (*token.Claims, error)
}

// Auth identifies the caller of a mutation.
type Auth struct {
	Requestor string
	Token     string
}

// MutationResult is returned by every successful mutation.
type MutationResult struct {
	Event      string         `json:"event"`
	DatasetURN string         `json:"dataset_urn"`
	Message    string         `json:"message"`
	Report     *ingest.Report `json:"report,omitempty"`
}

// MutationService applies single-record metadata changes on behalf of
// dataset owners.
type MutationService struct {
	oracle     checklist.Oracle
	verifier   TokenVerifier
	dispatcher Dispatcher
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewMutationService creates a mutation service. timeout bounds each
// dispatch; zero means no bound beyond the caller's context.
func NewMutationService(oracle checklist.Oracle, verifier TokenVerifier, dispatcher Dispatcher, timeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *MutationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MutationService{
		oracle:     oracle,
		verifier:   verifier,
		dispatcher: dispatcher,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger,
		metrics:    collector,
	}
}

func (s *MutationService) stamp(requestor string) models.AuditStamp {
	return models.AuditStamp{Time: s.now().UnixMilli(), Actor: models.MakeUserURN(requestor)}
}

// authorize checks the credential and that the requestor owns datasetURN.
func (s *MutationService) authorize(ctx context.Context, auth Auth, datasetURN string) error {
	if strings.TrimSpace(auth.Requestor) == "" {
		return fmt.Errorf("%w: requestor is required", ErrInvalidRequest)
	}
	if !models.IsURN(datasetURN) {
		return fmt.Errorf("%w: dataset_name %q is not an urn", ErrInvalidRequest, datasetURN)
	}
	if _, err := s.verifier.Verify(auth.Token, auth.Requestor); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !s.oracle.IsOwner(ctx, datasetURN, models.MakeUserURN(auth.Requestor), models.EntityDataset) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, ErrNotOwner)
	}
	return nil
}

// apply authorizes the caller, then dispatches rec with the caller's token.
func (s *MutationService) apply(ctx context.Context, event string, auth Auth, datasetURN string, build func() (models.Record, error)) (*MutationResult, error) {
	if err := s.authorize(ctx, auth, datasetURN); err != nil {
		s.logger.Warn("mutation refused", "op", event, "urn", datasetURN, "user", auth.Requestor, "error", err)
		return nil, err
	}
	rec, err := build()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, event, err)
	}
	return s.dispatch(ctx, event, auth, rec)
}

func (s *MutationService) dispatch(ctx context.Context, event string, auth Auth, rec models.Record) (*MutationResult, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "mutation")
	defer span.End()
	span.SetAttributes(
		attribute.String("op", event),
		attribute.String("urn", rec.URN()),
		attribute.String("user", auth.Requestor),
	)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	bearer := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(auth.Token), "Bearer "))
	report, err := s.dispatcher.Dispatch(ctx, []models.Record{rec}, bearer)
	if err == nil && report != nil && report.Partial() {
		f := report.Failures[0]
		err = &ingest.UpstreamError{URN: f.URN, Err: fmt.Errorf("status %d: %s", f.Status, f.Message)}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordFailure(metrics.OpMutation, time.Since(start))
		s.logger.Error("mutation failed", "op", event, "urn", rec.URN(), "user", auth.Requestor, "error", err)
		return nil, fmt.Errorf("%s failed because upstream error %w", event, err)
	}

	s.metrics.RecordTiming(metrics.OpMutation, time.Since(start))
	s.logger.Info("mutation applied", "op", event, "urn", rec.URN(), "user", auth.Requestor,
		"duration_ms", time.Since(start).Milliseconds())
	return &MutationResult{
		Event:      event,
		DatasetURN: rec.URN(),
		Message:    event + " completed successfully",
		Report:     report,
	}, nil
}

// UpdateBrowsePaths replaces the browse paths of a dataset.
func (s *MutationService) UpdateBrowsePaths(ctx context.Context, auth Auth, datasetURN string, folders []string) (*MutationResult, error) {
	return s.apply(ctx, EventBrowsePath, auth, datasetURN, func() (models.Record, error) {
		for _, f := range folders {
			if !strings.HasPrefix(f, "/") {
				return nil, fmt.Errorf("browse path %q must start with /", f)
			}
		}
		return models.NewDatasetSnapshot(datasetURN, models.BrowsePathsAspect(models.DatasetBrowsePaths(folders))), nil
	})
}

// SchemaFieldInput is one column sent by the schema editor.
type SchemaFieldInput struct {
	FieldName        string `json:"fieldName"`
	NativeDataType   string `json:"nativeDataType"`
	DatahubType      string `json:"datahubType"`
	FieldDescription string `json:"fieldDescription"`
	Nullable         *bool  `json:"nullable,omitempty"`
}

// UpdateSchema replaces the schema of a dataset.
func (s *MutationService) UpdateSchema(ctx context.Context, auth Auth, datasetURN string, fields []SchemaFieldInput) (*MutationResult, error) {
	return s.apply(ctx, EventSchema, auth, datasetURN, func() (models.Record, error) {
		platform, err := models.DerivePlatformURN(datasetURN)
		if err != nil {
			return nil, err
		}
		schema := make([]models.SchemaField, 0, len(fields))
		for _, f := range fields {
			if f.FieldName == "" {
				return nil, errors.New("field name is required")
			}
			ft, ok := models.DataHubFieldType(f.DatahubType)
			if !ok {
				return nil, fmt.Errorf("field %s has unknown type %q", f.FieldName, f.DatahubType)
			}
			schema = append(schema, models.SchemaField{
				FieldPath:      f.FieldName,
				Type:           ft,
				NativeDataType: f.NativeDataType,
				Description:    f.FieldDescription,
				Nullable:       f.Nullable,
			})
		}
		return models.NewDatasetSnapshot(datasetURN,
			models.SchemaMetadataAspect(platform, s.stamp(auth.Requestor), schema)), nil
	})
}

// Property is one custom property sent by the properties editor.
type Property struct {
	Key   string `json:"propertyKey"`
	Value string `json:"propertyValue"`
}

// UpdateProperties replaces the description and custom properties of a
// dataset. Properties without a key are ignored.
func (s *MutationService) UpdateProperties(ctx context.Context, auth Auth, datasetURN, description string, props []Property) (*MutationResult, error) {
	return s.apply(ctx, EventProperties, auth, datasetURN, func() (models.Record, error) {
		custom := make(map[string]string, len(props))
		for _, p := range props {
			if p.Key != "" {
				custom[p.Key] = p.Value
			}
		}
		return models.NewDatasetSnapshot(datasetURN, models.DatasetPropertiesAspect(description, custom)), nil
	})
}

// UpdateStatus soft-deletes (removed=true) or restores a dataset.
func (s *MutationService) UpdateStatus(ctx context.Context, auth Auth, datasetURN string, removed bool) (*MutationResult, error) {
	return s.apply(ctx, EventStatus(removed), auth, datasetURN, func() (models.Record, error) {
		return models.NewDatasetSnapshot(datasetURN, models.StatusAspect(removed)), nil
	})
}

// UpdateContainer moves a dataset into a container.
func (s *MutationService) UpdateContainer(ctx context.Context, auth Auth, datasetURN, containerURN string) (*MutationResult, error) {
	return s.apply(ctx, EventContainer, auth, datasetURN, func() (models.Record, error) {
		if !strings.HasPrefix(containerURN, "urn:li:container:") {
			return nil, fmt.Errorf("container %q is not a container urn", containerURN)
		}
		return models.ContainerProposal(datasetURN, containerURN)
	})
}

// UpdateName sets the display name of a dataset.
func (s *MutationService) UpdateName(ctx context.Context, auth Auth, datasetURN, name string) (*MutationResult, error) {
	return s.apply(ctx, EventName, auth, datasetURN, func() (models.Record, error) {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("name is required")
		}
		return models.NameProposal(datasetURN, name, s.stamp(auth.Requestor))
	})
}

// UpdateSamples records sample values per field as a dataset profile taken
// at timestampMillis, or now when zero.
func (s *MutationService) UpdateSamples(ctx context.Context, auth Auth, datasetURN string, samples map[string][]string, timestampMillis int64) (*MutationResult, error) {
	return s.apply(ctx, EventProfile, auth, datasetURN, func() (models.Record, error) {
		if len(samples) == 0 {
			return nil, errors.New("samples are required")
		}
		for field := range samples {
			if field == "" {
				return nil, errors.New("sample field name is required")
			}
		}
		if timestampMillis < 0 {
			return nil, fmt.Errorf("timestamp %d is negative", timestampMillis)
		}
		if timestampMillis == 0 {
			timestampMillis = s.now().UnixMilli()
		}
		return models.ProfileProposal(datasetURN, timestampMillis, samples)
	})
}

// DatasetType accepts either a plain string or {"dataset_type": "..."}.
type DatasetType string

func (t *DatasetType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = DatasetType(s)
		return nil
	}
	var wrapped struct {
		DatasetType string `json:"dataset_type"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("dataset_type must be a string or object: %w", err)
	}
	*t = DatasetType(wrapped.DatasetType)
	return nil
}

// Platform maps the uploaded content type to a platform name.
func (t DatasetType) Platform() string {
	switch strings.ToLower(string(t)) {
	case "text/csv", "application/octet-stream":
		return "csv"
	case "json":
		return "json"
	default:
		return "undefined"
	}
}

// NewFieldInput is one column of a dataset being created.
type NewFieldInput struct {
	FieldName        string `json:"field_name"`
	FieldType        string `json:"field_type"`
	FieldDescription string `json:"field_description"`
}

// MakeDatasetRequest describes a dataset created from the upload form.
type MakeDatasetRequest struct {
	DatasetName        string          `json:"dataset_name"`
	DatasetType        DatasetType     `json:"dataset_type"`
	Fields             []NewFieldInput `json:"fields"`
	DatasetOwner       string          `json:"dataset_owner"`
	DatasetDescription string          `json:"dataset_description"`
	DatasetLocation    string          `json:"dataset_location"`
	DatasetOrigin      string          `json:"dataset_origin"`
	HasHeader          string          `json:"hasHeader"`
	HeaderLine         int             `json:"headerLine"`
	BrowsePaths        []string        `json:"browsepathList"`
	UserToken          string          `json:"user_token"`
}

// MakeDataset creates a new dataset owned by the requesting user. The name
// gets the creation time appended so repeated uploads never collide.
func (s *MutationService) MakeDataset(ctx context.Context, req MakeDatasetRequest) (*MutationResult, error) {
	owner := strings.TrimSpace(req.DatasetOwner)
	if owner == "" || strings.TrimSpace(req.DatasetName) == "" {
		return nil, fmt.Errorf("%w: dataset_name and dataset_owner are required", ErrInvalidRequest)
	}
	if _, err := s.verifier.Verify(req.UserToken, owner); err != nil {
		s.logger.Warn("mutation refused", "op", EventCreateDataset, "user", owner, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	rec, err := s.newDataset(req, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, EventCreateDataset, err)
	}
	return s.dispatch(ctx, EventCreateDataset, Auth{Requestor: owner, Token: req.UserToken}, rec)
}

func (s *MutationService) newDataset(req MakeDatasetRequest, owner string) (*models.SnapshotRecord, error) {
	now := s.now()
	platform := req.DatasetType.Platform()
	name := fmt.Sprintf("%s_%d", req.DatasetName, now.UnixMilli())
	urn := models.MakeDatasetURN(platform, name, models.DefaultEnv)
	stamp := s.stamp(owner)

	hasHeader := req.HasHeader
	if hasHeader == "" {
		hasHeader = "n/a"
	}
	headerRow := "n/a"
	if hasHeader != "no" {
		line := req.HeaderLine
		if line == 0 {
			line = 1
		}
		headerRow = strconv.Itoa(line)
	}
	props := map[string]string{
		"dataset_origin":    req.DatasetOrigin,
		"dataset_location":  req.DatasetLocation,
		"has_header":        hasHeader,
		"header_row_number": headerRow,
	}
	if platform == "json" {
		delete(props, "has_header")
		delete(props, "header_row_number")
	}

	fields := make([]models.SchemaField, 0, len(req.Fields))
	for _, f := range req.Fields {
		if f.FieldName == "" {
			return nil, errors.New("field name is required")
		}
		ft, ok := models.NativeFieldType(f.FieldType)
		if !ok {
			return nil, fmt.Errorf("field %s has unknown type %q", f.FieldName, f.FieldType)
		}
		fields = append(fields, models.SchemaField{
			FieldPath:      f.FieldName,
			Type:           ft,
			NativeDataType: f.FieldType,
			Description:    f.FieldDescription,
		})
	}

	ownerURN := models.MakeUserURN(owner)
	return models.NewDatasetSnapshot(urn,
		models.DatasetPropertiesAspect(req.DatasetDescription, props),
		models.OwnershipSnapshotAspect(models.OwnershipAspect{
			Owners:       []models.Owner{{Owner: ownerURN, Type: models.OwnerDataOwner}},
			LastModified: &stamp,
		}),
		models.BrowsePathsAspect(models.DatasetBrowsePaths(req.BrowsePaths)),
		models.SchemaMetadataAspect(models.MakePlatformURN(platform), stamp, fields),
	), nil
}
