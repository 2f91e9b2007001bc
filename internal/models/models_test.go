package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeUserURN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain id", "alice", "urn:li:corpuser:alice"},
		{"already urn", "urn:li:corpuser:bob", "urn:li:corpuser:bob"},
		{"numeric id", "12345", "urn:li:corpuser:12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MakeUserURN(tt.in); got != tt.want {
				t.Errorf("MakeUserURN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDatasetURNRoundTrip(t *testing.T) {
	urn := MakeDatasetURN("kafka", "orders", "")
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:kafka,orders,PROD)", urn)

	platform, err := DerivePlatformURN(urn)
	require.NoError(t, err)
	assert.Equal(t, "urn:li:dataPlatform:kafka", platform)
	assert.Equal(t, "orders", DatasetName(urn))

	_, err = DerivePlatformURN("urn:li:container:abc")
	assert.Error(t, err)
}

func TestSnapshotEntityType(t *testing.T) {
	assert.Equal(t, "dataset", SnapshotEntityType(DatasetSnapshotKey))
	assert.Equal(t, "corpUser", SnapshotEntityType("com.linkedin.metadata.snapshot.CorpUserSnapshot"))
	assert.Equal(t, "", SnapshotEntityType("Snapshot"))
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, OwnershipAspectKey, CanonicalKey("com.linkedin.common.Ownership"))
	assert.Equal(t, OwnershipAspectKey, CanonicalKey(OwnershipAspectKey))
	assert.Equal(t, "com.linkedin.common.Ownership", RestKey(OwnershipAspectKey))
	assert.Equal(t, "other", CanonicalKey("other"))
}

func TestDecodeOwnership(t *testing.T) {
	aspect, err := DecodeOwnership(json.RawMessage(`{"owners":[{"owner":"urn:li:corpuser:a","type":"DATAOWNER"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:li:corpuser:a"}, aspect.OwnerURNs())
	assert.True(t, aspect.Has("urn:li:corpuser:a"))
	assert.False(t, aspect.Has("urn:li:corpuser:b"))

	_, err = DecodeOwnership(json.RawMessage(`{"ownership":[]}`))
	assert.Error(t, err, "missing owners list must fail")

	_, err = DecodeOwnership(json.RawMessage(`{"owners":[{"owner":"alice"}]}`))
	assert.Error(t, err, "owner that is not an urn must fail")

	_, err = DecodeOwnership(json.RawMessage(`{"owners":[{"owner":"urn:li:corpuser:a"}]}`))
	assert.ErrorContains(t, err, "unknown ownership type")

	_, err = DecodeOwnership(json.RawMessage(`{"owners":[{"owner":"urn:li:corpuser:a","type":"OVERLORD"}]}`))
	assert.ErrorContains(t, err, `"OVERLORD"`)
}

func TestSnapshotMarshal(t *testing.T) {
	rec := NewDatasetSnapshot("urn:li:dataset:x", StatusAspect(true))
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]map[string]struct {
		URN     string                       `json:"urn"`
		Aspects []map[string]json.RawMessage `json:"aspects"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	snap := decoded["proposedSnapshot"][DatasetSnapshotKey]
	assert.Equal(t, "urn:li:dataset:x", snap.URN)
	require.Len(t, snap.Aspects, 1)
	assert.JSONEq(t, `{"removed":true}`, string(snap.Aspects[0][StatusAspectKey]))
}

func TestProposalMarshalEncodesAspectAsString(t *testing.T) {
	rec, err := OwnershipProposal("urn:li:dataset:x", EntityDataset, OwnershipAspect{
		Owners: []Owner{{Owner: "urn:li:corpuser:a", Type: OwnerTechnicalOwner}},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded struct {
		EntityType string        `json:"entityType"`
		ChangeType string        `json:"changeType"`
		AspectName string        `json:"aspectName"`
		Aspect     GenericAspect `json:"aspect"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "dataset", decoded.EntityType)
	assert.Equal(t, "UPSERT", decoded.ChangeType)
	assert.Equal(t, "ownership", decoded.AspectName)
	assert.Equal(t, "application/json", decoded.Aspect.ContentType)
	assert.JSONEq(t, `{"owners":[{"owner":"urn:li:corpuser:a","type":"TECHNICAL_OWNER"}]}`, decoded.Aspect.Value)
}

func TestDatasetBrowsePaths(t *testing.T) {
	got := DatasetBrowsePaths([]string{"/prod/kafka/", "/team", "/broken//"})
	assert.Equal(t, []string{"/prod/kafka/dataset", "/team/dataset"}, got)
}

func TestFieldTypes(t *testing.T) {
	ft, ok := DataHubFieldType("STRING")
	assert.True(t, ok)
	assert.Equal(t, FieldString, ft)

	ft, ok = NativeFieldType("Num")
	assert.True(t, ok)
	assert.Equal(t, FieldNumber, ft)

	_, ok = NativeFieldType("decimal128")
	assert.False(t, ok)
}

func TestSchemaFieldMarshal(t *testing.T) {
	nullable := true
	raw, err := json.Marshal(SchemaField{
		FieldPath:      "id",
		Type:           FieldNumber,
		NativeDataType: "int",
		Nullable:       &nullable,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fieldPath": "id",
		"type": {"type": {"com.linkedin.pegasus2avro.schema.NumberType": {}}},
		"nativeDataType": "int",
		"description": "",
		"nullable": true
	}`, string(raw))
}

func TestProfileProposal(t *testing.T) {
	rec, err := ProfileProposal("urn:li:dataset:x", 1700000000000, map[string][]string{
		"name": {"a", "b"},
		"id":   nil,
	})
	require.NoError(t, err)
	assert.Equal(t, AspectDatasetProfile, rec.AspectName)
	assert.Equal(t, EntityDataset, rec.EntityType)
	assert.JSONEq(t, `{
		"timestampMillis": 1700000000000,
		"fieldProfiles": [
			{"fieldPath": "id", "sampleValues": []},
			{"fieldPath": "name", "sampleValues": ["a", "b"]}
		]
	}`, string(rec.AspectValue))
}
