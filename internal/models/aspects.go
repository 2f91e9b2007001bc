package models

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Owner types understood by the catalog.
const (
	OwnerDataOwner      = "DATAOWNER"
	OwnerTechnicalOwner = "TECHNICAL_OWNER"
	OwnerBusinessOwner  = "BUSINESS_OWNER"
	OwnerDataSteward    = "DATA_STEWARD"
	OwnerProducer       = "PRODUCER"
	OwnerDeveloper      = "DEVELOPER"
	OwnerDelegate       = "DELEGATE"
	OwnerConsumer       = "CONSUMER"
	OwnerStakeholder    = "STAKEHOLDER"
	OwnerCustom         = "CUSTOM"
	OwnerNone           = "NONE"
)

var ownerTypes = map[string]bool{
	OwnerDataOwner:      true,
	OwnerTechnicalOwner: true,
	OwnerBusinessOwner:  true,
	OwnerDataSteward:    true,
	OwnerProducer:       true,
	OwnerDeveloper:      true,
	OwnerDelegate:       true,
	OwnerConsumer:       true,
	OwnerStakeholder:    true,
	OwnerCustom:         true,
	OwnerNone:           true,
}

// ValidOwnerType reports whether t is an ownership type the catalog accepts.
func ValidOwnerType(t string) bool {
	return ownerTypes[t]
}

// FieldType is the union key of a schema field's data type.
type FieldType string

const (
	FieldBoolean FieldType = AvroNamespace + "schema.BooleanType"
	FieldString  FieldType = AvroNamespace + "schema.StringType"
	FieldBytes   FieldType = AvroNamespace + "schema.BytesType"
	FieldNumber  FieldType = AvroNamespace + "schema.NumberType"
	FieldDate    FieldType = AvroNamespace + "schema.DateType"
	FieldTime    FieldType = AvroNamespace + "schema.TimeType"
	FieldEnum    FieldType = AvroNamespace + "schema.EnumType"
	FieldNull    FieldType = AvroNamespace + "schema.NullType"
	FieldRecord  FieldType = AvroNamespace + "schema.RecordType"
	FieldArray   FieldType = AvroNamespace + "schema.ArrayType"
	FieldUnion   FieldType = AvroNamespace + "schema.UnionType"
	FieldMap     FieldType = AvroNamespace + "schema.MapType"
	FieldFixed   FieldType = AvroNamespace + "schema.FixedType"
)

// datahubFieldTypes maps the upper-case names used by the schema editor.
var datahubFieldTypes = map[string]FieldType{
	"BOOLEAN": FieldBoolean,
	"STRING":  FieldString,
	"BYTES":   FieldBytes,
	"NUMBER":  FieldNumber,
	"DATE":    FieldDate,
	"TIME":    FieldTime,
	"ENUM":    FieldEnum,
	"NULL":    FieldNull,
	"RECORD":  FieldRecord,
	"ARRAY":   FieldArray,
	"UNION":   FieldUnion,
	"MAP":     FieldMap,
	"FIXED":   FieldFixed,
}

// nativeFieldTypes maps the loose type names accepted when creating a dataset.
var nativeFieldTypes = map[string]FieldType{
	"boolean":   FieldBoolean,
	"bool":      FieldBoolean,
	"string":    FieldString,
	"bytes":     FieldBytes,
	"number":    FieldNumber,
	"num":       FieldNumber,
	"integer":   FieldNumber,
	"double":    FieldNumber,
	"date":      FieldDate,
	"time":      FieldTime,
	"date-time": FieldTime,
	"enum":      FieldEnum,
	"null":      FieldNull,
	"object":    FieldRecord,
	"array":     FieldArray,
	"union":     FieldUnion,
	"map":       FieldMap,
	"fixed":     FieldFixed,
}

// DataHubFieldType resolves a schema editor type name such as "STRING".
func DataHubFieldType(name string) (FieldType, bool) {
	t, ok := datahubFieldTypes[name]
	return t, ok
}

// NativeFieldType resolves a dataset creation type name such as "num".
func NativeFieldType(name string) (FieldType, bool) {
	t, ok := nativeFieldTypes[strings.ToLower(name)]
	return t, ok
}

// SchemaField describes one column of a dataset schema.
type SchemaField struct {
	FieldPath      string
	Type           FieldType
	NativeDataType string
	Description    string
	Nullable       *bool
}

func (f SchemaField) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"fieldPath": f.FieldPath,
		"type": map[string]any{
			"type": map[string]any{string(f.Type): map[string]any{}},
		},
		"nativeDataType": f.NativeDataType,
		"description":    f.Description,
	}
	if f.Nullable != nil {
		body["nullable"] = *f.Nullable
	}
	return json.Marshal(body)
}

// mustAspect encodes values built from fixed Go types, which cannot fail.
func mustAspect(key string, value any) Aspect {
	raw, err := json.Marshal(value)
	if err != nil {
		panic("models: encode " + key + ": " + err.Error())
	}
	return Aspect{Key: key, Value: raw}
}

// BrowsePathsAspect sets the browse paths of an entity.
func BrowsePathsAspect(paths []string) Aspect {
	if paths == nil {
		paths = []string{}
	}
	return mustAspect(BrowsePathsAspectKey, map[string]any{"paths": paths})
}

// DatasetBrowsePaths normalises folder paths from the UI: each gets a
// trailing slash followed by "dataset". Folders ending in "//" are dropped.
func DatasetBrowsePaths(folders []string) []string {
	paths := make([]string, 0, len(folders))
	for _, folder := range folders {
		if strings.HasSuffix(folder, "//") {
			continue
		}
		if !strings.HasSuffix(folder, "/") {
			folder += "/"
		}
		paths = append(paths, folder+"dataset")
	}
	return paths
}

// StatusAspect soft-deletes (removed=true) or restores an entity.
func StatusAspect(removed bool) Aspect {
	return mustAspect(StatusAspectKey, map[string]any{"removed": removed})
}

// DatasetPropertiesAspect sets the description and custom properties.
func DatasetPropertiesAspect(description string, custom map[string]string) Aspect {
	if custom == nil {
		custom = map[string]string{}
	}
	return mustAspect(DatasetPropertiesAspectKey, map[string]any{
		"description":      description,
		"customProperties": custom,
	})
}

// OwnershipSnapshotAspect wraps an ownership aspect for a snapshot.
func OwnershipSnapshotAspect(ownership OwnershipAspect) Aspect {
	return mustAspect(OwnershipAspectKey, ownership)
}

// SchemaMetadataAspect builds the schema of a dataset on platformURN.
func SchemaMetadataAspect(platformURN string, stamp AuditStamp, fields []SchemaField) Aspect {
	if fields == nil {
		fields = []SchemaField{}
	}
	return mustAspect(SchemaMetadataAspectKey, map[string]any{
		"schemaName":     "OtherSchema",
		"platform":       platformURN,
		"version":        0,
		"created":        stamp,
		"lastModified":   stamp,
		"hash":           "",
		"platformSchema": map[string]any{otherSchemaKey: map[string]any{"rawSchema": ""}},
		"fields":         fields,
	})
}

// ContainerProposal assigns a dataset to a container.
func ContainerProposal(datasetURN, containerURN string) (*ProposalRecord, error) {
	return NewProposal(datasetURN, EntityDataset, AspectContainer, map[string]string{
		"container": containerURN,
	})
}

// NameProposal sets the display name of a dataset.
func NameProposal(datasetURN, name string, stamp AuditStamp) (*ProposalRecord, error) {
	return NewProposal(datasetURN, EntityDataset, AspectEditableDatasetProperties, map[string]any{
		"name":         name,
		"created":      stamp,
		"lastModified": stamp,
	})
}

// OwnershipProposal builds an UPSERT of the full owner list of urn.
func OwnershipProposal(urn, entityType string, ownership OwnershipAspect) (*ProposalRecord, error) {
	return NewProposal(urn, entityType, AspectOwnership, ownership)
}

// FieldProfile carries the sample values of one column.
type FieldProfile struct {
	FieldPath    string   `json:"fieldPath"`
	SampleValues []string `json:"sampleValues"`
}

// ProfileProposal writes a dataset profile holding sample values per field
// at timestampMillis. Fields are ordered by path.
func ProfileProposal(datasetURN string, timestampMillis int64, samples map[string][]string) (*ProposalRecord, error) {
	fields := make([]FieldProfile, 0, len(samples))
	for _, path := range slices.Sorted(maps.Keys(samples)) {
		values := samples[path]
		if values == nil {
			values = []string{}
		}
		fields = append(fields, FieldProfile{FieldPath: path, SampleValues: values})
	}
	return NewProposal(datasetURN, EntityDataset, AspectDatasetProfile, map[string]any{
		"timestampMillis": timestampMillis,
		"fieldProfiles":   fields,
	})
}
