package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Namespaces used in aspect and snapshot union keys. Files written by the
// ingestion CLI use the avro spelling, the REST API expects the plain one.
const (
	AvroNamespace = "com.linkedin.pegasus2avro."
	RestNamespace = "com.linkedin."
)

// Union keys of the snapshot and aspect kinds this service understands.
const (
	DatasetSnapshotKey         = AvroNamespace + "metadata.snapshot.DatasetSnapshot"
	OwnershipAspectKey         = AvroNamespace + "common.Ownership"
	BrowsePathsAspectKey       = AvroNamespace + "common.BrowsePaths"
	StatusAspectKey            = AvroNamespace + "common.Status"
	SchemaMetadataAspectKey    = AvroNamespace + "schema.SchemaMetadata"
	DatasetPropertiesAspectKey = AvroNamespace + "dataset.DatasetProperties"
	otherSchemaKey             = AvroNamespace + "schema.OtherSchema"
)

// Proposal aspect names.
const (
	AspectOwnership                 = "ownership"
	AspectContainer                 = "container"
	AspectDatasetProperties         = "datasetProperties"
	AspectEditableDatasetProperties = "editableDatasetProperties"
	AspectDatasetProfile            = "datasetProfile"
)

// UnableToInfer is the checklist bucket for batch entries that cannot be
// attributed to an entity.
const UnableToInfer = "unable_to_infer"

// Entity types accepted by the upload gate.
const (
	EntityDataset   = "dataset"
	EntityContainer = "container"
)

// CanonicalKey rewrites a union key into the avro spelling so both spellings
// compare equal.
func CanonicalKey(key string) string {
	if strings.HasPrefix(key, AvroNamespace) {
		return key
	}
	if rest, ok := strings.CutPrefix(key, RestNamespace); ok {
		return AvroNamespace + rest
	}
	return key
}

// RestKey rewrites a union key into the spelling the REST API expects.
func RestKey(key string) string {
	if rest, ok := strings.CutPrefix(key, AvroNamespace); ok {
		return RestNamespace + rest
	}
	return key
}

// ChangeType is the mutation kind of a proposal.
type ChangeType string

const (
	ChangeUpsert       ChangeType = "UPSERT"
	ChangeCreate       ChangeType = "CREATE"
	ChangeUpdate       ChangeType = "UPDATE"
	ChangeDelete       ChangeType = "DELETE"
	ChangePatch        ChangeType = "PATCH"
	ChangeRestate      ChangeType = "RESTATE"
	ChangeCreateEntity ChangeType = "CREATE_ENTITY"
)

// Valid reports whether c is a change type the catalog accepts.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeUpsert, ChangeCreate, ChangeUpdate, ChangeDelete, ChangePatch, ChangeRestate, ChangeCreateEntity:
		return true
	}
	return false
}

// Kind discriminates the Record union.
type Kind int

const (
	KindUnparseable Kind = iota
	KindSnapshot
	KindProposal
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindProposal:
		return "proposal"
	default:
		return "unparseable"
	}
}

// Record is one entry of an uploaded batch. It is one of *SnapshotRecord,
// *ProposalRecord or *Unparseable.
type Record interface {
	// URN returns the target entity urn, empty for unparseable records.
	URN() string
	Kind() Kind
}

// Owner is a single entry of an ownership aspect.
type Owner struct {
	Owner string `json:"owner"`
	Type  string `json:"type"`
}

// AuditStamp records who changed an aspect and when (epoch millis).
type AuditStamp struct {
	Time  int64  `json:"time"`
	Actor string `json:"actor"`
}

// OwnershipAspect lists the owners of an entity.
type OwnershipAspect struct {
	Owners       []Owner     `json:"owners"`
	LastModified *AuditStamp `json:"lastModified,omitempty"`
}

// OwnerURNs returns the owner urns in aspect order.
func (o *OwnershipAspect) OwnerURNs() []string {
	urns := make([]string, 0, len(o.Owners))
	for _, owner := range o.Owners {
		urns = append(urns, owner.Owner)
	}
	return urns
}

// Has reports whether urn is listed as an owner.
func (o *OwnershipAspect) Has(urn string) bool {
	for _, owner := range o.Owners {
		if owner.Owner == urn {
			return true
		}
	}
	return false
}

// DecodeOwnership decodes and checks an ownership aspect value.
func DecodeOwnership(value json.RawMessage) (*OwnershipAspect, error) {
	var aspect struct {
		Owners       *[]Owner    `json:"owners"`
		LastModified *AuditStamp `json:"lastModified"`
	}
	if err := json.Unmarshal(value, &aspect); err != nil {
		return nil, fmt.Errorf("decode ownership: %w", err)
	}
	if aspect.Owners == nil {
		return nil, fmt.Errorf("ownership aspect has no owners list")
	}
	for i, owner := range *aspect.Owners {
		if !IsURN(owner.Owner) {
			return nil, fmt.Errorf("owner %d is not an urn: %q", i, owner.Owner)
		}
		if !ValidOwnerType(owner.Type) {
			return nil, fmt.Errorf("owner %d has unknown ownership type %q", i, owner.Type)
		}
	}
	return &OwnershipAspect{Owners: *aspect.Owners, LastModified: aspect.LastModified}, nil
}

// Aspect is one member of a snapshot's aspect list: a union key and its value.
// Only ownership aspects are interpreted; everything else passes through.
type Aspect struct {
	Key   string
	Value json.RawMessage
}

// IsOwnership reports whether the aspect is an ownership aspect.
func (a Aspect) IsOwnership() bool {
	return CanonicalKey(a.Key) == OwnershipAspectKey
}

// MarshalJSON encodes the aspect as a single-key union object.
func (a Aspect) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage{a.Key: a.Value})
}

// SnapshotRecord proposes a bundle of aspects for one entity.
type SnapshotRecord struct {
	SnapshotType   string
	EntityURN      string
	Aspects        []Aspect
	SystemMetadata json.RawMessage
}

func (s *SnapshotRecord) URN() string { return s.EntityURN }
func (s *SnapshotRecord) Kind() Kind  { return KindSnapshot }

// EntityType derives the entity kind from the snapshot's type key, e.g.
// "...DatasetSnapshot" becomes "dataset".
func (s *SnapshotRecord) EntityType() string {
	return SnapshotEntityType(s.SnapshotType)
}

// SnapshotEntityType derives an entity type from a snapshot union key.
func SnapshotEntityType(key string) string {
	name := key
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		name = key[i+1:]
	}
	name = strings.TrimSuffix(name, "Snapshot")
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}

// IsDatasetSnapshot reports whether the snapshot key names a DatasetSnapshot.
func (s *SnapshotRecord) IsDatasetSnapshot() bool {
	return CanonicalKey(s.SnapshotType) == DatasetSnapshotKey
}

// MarshalJSON writes the record in metadata file format.
func (s *SnapshotRecord) MarshalJSON() ([]byte, error) {
	aspects := s.Aspects
	if aspects == nil {
		aspects = []Aspect{}
	}
	body := map[string]any{
		"proposedSnapshot": map[string]any{
			s.SnapshotType: map[string]any{
				"urn":     s.EntityURN,
				"aspects": aspects,
			},
		},
	}
	if len(s.SystemMetadata) > 0 {
		body["systemMetadata"] = s.SystemMetadata
	}
	return json.Marshal(body)
}

// NewDatasetSnapshot returns an empty dataset snapshot for urn.
func NewDatasetSnapshot(urn string, aspects ...Aspect) *SnapshotRecord {
	return &SnapshotRecord{
		SnapshotType: DatasetSnapshotKey,
		EntityURN:    urn,
		Aspects:      aspects,
	}
}

// ProposalRecord is a single-aspect change for one entity. AspectValue holds
// the decoded aspect object.
type ProposalRecord struct {
	EntityType     string
	EntityURN      string
	AspectName     string
	ChangeType     ChangeType
	AspectValue    json.RawMessage
	SystemMetadata json.RawMessage
}

func (p *ProposalRecord) URN() string { return p.EntityURN }
func (p *ProposalRecord) Kind() Kind  { return KindProposal }

// IsOwnership reports whether the proposal writes the ownership aspect.
func (p *ProposalRecord) IsOwnership() bool {
	return p.AspectName == AspectOwnership
}

// GenericAspect is the serialized form of a proposal's aspect.
type GenericAspect struct {
	Value       string `json:"value"`
	ContentType string `json:"contentType"`
}

// MarshalJSON writes the record in metadata file format with the aspect
// encoded as a JSON string.
func (p *ProposalRecord) MarshalJSON() ([]byte, error) {
	body := struct {
		EntityType     string          `json:"entityType"`
		EntityURN      string          `json:"entityUrn"`
		ChangeType     ChangeType      `json:"changeType"`
		AspectName     string          `json:"aspectName"`
		Aspect         GenericAspect   `json:"aspect"`
		SystemMetadata json.RawMessage `json:"systemMetadata,omitempty"`
	}{
		EntityType: p.EntityType,
		EntityURN:  p.EntityURN,
		ChangeType: p.ChangeType,
		AspectName: p.AspectName,
		Aspect: GenericAspect{
			Value:       string(p.AspectValue),
			ContentType: "application/json",
		},
		SystemMetadata: p.SystemMetadata,
	}
	return json.Marshal(body)
}

// NewProposal builds an UPSERT proposal with value as the aspect.
func NewProposal(urn, entityType, aspectName string, value any) (*ProposalRecord, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s aspect: %w", aspectName, err)
	}
	return &ProposalRecord{
		EntityType:  entityType,
		EntityURN:   urn,
		AspectName:  aspectName,
		ChangeType:  ChangeUpsert,
		AspectValue: raw,
	}, nil
}

// Unparseable stands in for a batch entry that could not be attributed to
// any entity.
type Unparseable struct {
	Index  int
	Reason string
}

func (u *Unparseable) URN() string { return "" }
func (u *Unparseable) Kind() Kind  { return KindUnparseable }
