// Package classify turns raw batch entries into typed metadata records.
//
// Precedence is fixed: an object carrying a "proposedSnapshot" key is a
// snapshot record; otherwise an object carrying "aspect" or "aspectName" is a
// proposal record; anything else is unparseable. Classification never fails
// with an error value. Problems are reported as a StructuralError attributed
// either to the record's urn or to models.UnableToInfer.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/tidwall/gjson"
)

// AllowedProposalTypes lists the entity types a proposal may target.
var AllowedProposalTypes = map[string]bool{
	models.EntityDataset:   true,
	models.EntityContainer: true,
}

// StructuralError describes a batch entry that cannot be ingested as is.
type StructuralError struct {
	Index   int
	Bucket  string
	Message string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s", e.Bucket, e.Message)
}

// Result is the outcome of classifying one batch entry. Record is always set;
// when Err is non-nil the record must not be processed further.
type Result struct {
	Index      int
	Record     models.Record
	EntityType string
	// Ownership holds every ownership aspect carried by the record, in order.
	Ownership []*models.OwnershipAspect
	Err       *StructuralError
}

// OK reports whether the record may be processed.
func (r Result) OK() bool {
	return r.Err == nil
}

// ParseBatch splits an uploaded file into its entries. The file must hold a
// JSON array.
func ParseBatch(data []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("file is not valid JSON")
	}
	if !gjson.ParseBytes(data).IsArray() {
		return nil, errors.New("file does not contain a JSON array of records")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return entries, nil
}

// Classify inspects the entry at position index of a batch.
func Classify(index int, raw json.RawMessage) Result {
	if !gjson.ValidBytes(raw) {
		return unparseable(index, fmt.Sprintf("Item %d in file is malformed JSON", index))
	}
	top := gjson.ParseBytes(raw)
	if !top.IsObject() {
		return unparseable(index, fmt.Sprintf("Item %d in file is invalid object", index))
	}
	if snap := top.Get("proposedSnapshot"); snap.Exists() {
		return classifySnapshot(index, top, snap)
	}
	if top.Get("aspect").Exists() || top.Get("aspectName").Exists() {
		return classifyProposal(index, raw)
	}
	return unparseable(index, fmt.Sprintf("Item %d in file is invalid object", index))
}

// ClassifyAll classifies every entry of a batch in order.
func ClassifyAll(entries []json.RawMessage) []Result {
	results := make([]Result, 0, len(entries))
	for i, raw := range entries {
		results = append(results, Classify(i, raw))
	}
	return results
}

func unparseable(index int, msg string) Result {
	return Result{
		Index:  index,
		Record: &models.Unparseable{Index: index, Reason: msg},
		Err:    &StructuralError{Index: index, Bucket: models.UnableToInfer, Message: msg},
	}
}

func invalid(index int, rec models.Record, kind, reason string) Result {
	msg := fmt.Sprintf("Item %d is invalid %s: %s", index, kind, reason)
	return Result{
		Index:  index,
		Record: rec,
		Err:    &StructuralError{Index: index, Bucket: models.UnableToInfer, Message: msg},
	}
}

func rejectedFor(index int, rec models.Record, msg string) Result {
	return Result{
		Index:  index,
		Record: rec,
		Err:    &StructuralError{Index: index, Bucket: rec.URN(), Message: msg},
	}
}

func classifySnapshot(index int, top, snap gjson.Result) Result {
	fail := func(reason string) Result {
		return invalid(index, &models.Unparseable{Index: index, Reason: reason}, "snapshot", reason)
	}
	if !snap.IsObject() {
		return fail("proposedSnapshot is not an object")
	}

	var keys []string
	var body gjson.Result
	snap.ForEach(func(key, value gjson.Result) bool {
		keys = append(keys, key.String())
		body = value
		return true
	})
	if len(keys) != 1 {
		return fail(fmt.Sprintf("proposedSnapshot must hold exactly one snapshot, found %d", len(keys)))
	}

	var decoded struct {
		URN     *string                      `json:"urn"`
		Aspects []map[string]json.RawMessage `json:"aspects"`
	}
	if err := json.Unmarshal([]byte(body.Raw), &decoded); err != nil {
		return fail(err.Error())
	}
	if decoded.URN == nil || !models.IsURN(*decoded.URN) {
		return fail("snapshot has no valid urn")
	}

	rec := &models.SnapshotRecord{
		SnapshotType: keys[0],
		EntityURN:    *decoded.URN,
		Aspects:      make([]models.Aspect, 0, len(decoded.Aspects)),
	}
	if meta := top.Get("systemMetadata"); meta.Exists() && meta.Type != gjson.Null {
		rec.SystemMetadata = json.RawMessage(meta.Raw)
	}
	// Wrong kinds are charged to their own urn whatever their aspects hold.
	if !rec.IsDatasetSnapshot() {
		return rejectedFor(index, rec, "Snapshot is not DatasetSnapshot")
	}
	if decoded.Aspects == nil {
		return fail("snapshot has no aspects list")
	}

	var owners []*models.OwnershipAspect
	for i, union := range decoded.Aspects {
		if len(union) != 1 {
			return fail(fmt.Sprintf("aspect %d must hold exactly one member, found %d", i, len(union)))
		}
		for key, value := range union {
			aspect := models.Aspect{Key: key, Value: value}
			if aspect.IsOwnership() {
				ownership, err := models.DecodeOwnership(value)
				if err != nil {
					return fail(fmt.Sprintf("aspect %d: %v", i, err))
				}
				owners = append(owners, ownership)
			}
			rec.Aspects = append(rec.Aspects, aspect)
		}
	}

	return Result{
		Index:      index,
		Record:     rec,
		EntityType: rec.EntityType(),
		Ownership:  owners,
	}
}

func classifyProposal(index int, raw json.RawMessage) Result {
	fail := func(reason string) Result {
		return invalid(index, &models.Unparseable{Index: index, Reason: reason}, "proposal", reason)
	}

	var decoded struct {
		EntityType     string          `json:"entityType"`
		EntityURN      string          `json:"entityUrn"`
		ChangeType     string          `json:"changeType"`
		AspectName     string          `json:"aspectName"`
		Aspect         json.RawMessage `json:"aspect"`
		SystemMetadata json.RawMessage `json:"systemMetadata"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fail(err.Error())
	}
	switch {
	case decoded.EntityType == "":
		return fail("entityType is missing")
	case !models.IsURN(decoded.EntityURN):
		return fail("entityUrn is missing or not an urn")
	case !models.ChangeType(decoded.ChangeType).Valid():
		return fail(fmt.Sprintf("unknown changeType %q", decoded.ChangeType))
	case decoded.AspectName == "":
		return fail("aspectName is missing")
	}
	value, err := AspectValue(decoded.Aspect)
	if err != nil {
		return fail(err.Error())
	}

	rec := &models.ProposalRecord{
		EntityType:  decoded.EntityType,
		EntityURN:   decoded.EntityURN,
		AspectName:  decoded.AspectName,
		ChangeType:  models.ChangeType(decoded.ChangeType),
		AspectValue: value,
	}
	if len(decoded.SystemMetadata) > 0 && string(decoded.SystemMetadata) != "null" {
		rec.SystemMetadata = decoded.SystemMetadata
	}

	var owners []*models.OwnershipAspect
	if rec.IsOwnership() {
		ownership, err := models.DecodeOwnership(value)
		if err != nil {
			return fail(err.Error())
		}
		owners = append(owners, ownership)
	}

	if !AllowedProposalTypes[rec.EntityType] {
		return rejectedFor(index, rec, "aspect is not a dataset or container aspect")
	}
	return Result{
		Index:      index,
		Record:     rec,
		EntityType: rec.EntityType,
		Ownership:  owners,
	}
}

// AspectValue extracts the aspect object from a serialized proposal aspect.
// It accepts {"value": "<json string>"}, {"value": {...}} and the simplified
// {"json": {...}} form.
func AspectValue(aspect json.RawMessage) (json.RawMessage, error) {
	if len(aspect) == 0 || string(aspect) == "null" {
		return nil, errors.New("aspect is missing")
	}
	var generic struct {
		Value       json.RawMessage `json:"value"`
		JSON        json.RawMessage `json:"json"`
		ContentType string          `json:"contentType"`
	}
	if err := json.Unmarshal(aspect, &generic); err != nil {
		return nil, fmt.Errorf("aspect is not an object: %w", err)
	}
	if generic.ContentType != "" && generic.ContentType != "application/json" {
		return nil, fmt.Errorf("unsupported aspect contentType %q", generic.ContentType)
	}

	value := generic.JSON
	if len(value) == 0 {
		value = generic.Value
	}
	if len(value) == 0 {
		return nil, errors.New("aspect has no value")
	}
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, fmt.Errorf("aspect value is not a string: %w", err)
		}
		value = json.RawMessage(s)
	}
	if !gjson.ValidBytes(value) || !gjson.ParseBytes(value).IsObject() {
		return nil, errors.New("aspect value is not a JSON object")
	}
	return value, nil
}
