package classify

import (
	"encoding/json"
	"testing"

	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const datasetURN = "urn:li:dataset:(urn:li:dataPlatform:hive,orders,PROD)"

func snapshotJSON(key, urn, aspects string) json.RawMessage {
	return json.RawMessage(`{"proposedSnapshot":{"` + key + `":{"urn":"` + urn + `","aspects":` + aspects + `}}}`)
}

func TestParseBatch(t *testing.T) {
	entries, err := ParseBatch([]byte(`[{"a":1}, 2, "x"]`))
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	_, err = ParseBatch([]byte(`{"a":1}`))
	assert.Error(t, err)

	_, err = ParseBatch([]byte(`[{"a":`))
	assert.Error(t, err)
}

func TestClassifySnapshot(t *testing.T) {
	raw := snapshotJSON(models.DatasetSnapshotKey, datasetURN,
		`[{"com.linkedin.pegasus2avro.common.Ownership":{"owners":[{"owner":"urn:li:corpuser:alice","type":"DATAOWNER"}]}},
		  {"com.linkedin.pegasus2avro.common.Status":{"removed":false}}]`)

	res := Classify(0, raw)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, models.KindSnapshot, res.Record.Kind())
	assert.Equal(t, datasetURN, res.Record.URN())
	assert.Equal(t, models.EntityDataset, res.EntityType)
	require.Len(t, res.Ownership, 1)
	assert.True(t, res.Ownership[0].Has("urn:li:corpuser:alice"))

	snap := res.Record.(*models.SnapshotRecord)
	assert.Len(t, snap.Aspects, 2)
}

func TestClassifySnapshotAcceptsRestSpelling(t *testing.T) {
	raw := snapshotJSON("com.linkedin.metadata.snapshot.DatasetSnapshot", datasetURN, `[]`)
	res := Classify(0, raw)
	require.True(t, res.OK())
	assert.Empty(t, res.Ownership)
}

func TestClassifySnapshotErrors(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantMsg    string
	}{
		{
			name:       "not a dataset snapshot",
			raw:        string(snapshotJSON("com.linkedin.pegasus2avro.metadata.snapshot.ChartSnapshot", "urn:li:chart:(looker,1)", `[]`)),
			wantBucket: "urn:li:chart:(looker,1)",
			wantMsg:    "Snapshot is not DatasetSnapshot",
		},
		{
			name:       "wrong kind with malformed ownership",
			raw:        string(snapshotJSON("com.linkedin.pegasus2avro.metadata.snapshot.ChartSnapshot", "urn:li:chart:(looker,1)", `[{"com.linkedin.pegasus2avro.common.Ownership":{"owners":[{"owner":"bob"}]}}]`)),
			wantBucket: "urn:li:chart:(looker,1)",
			wantMsg:    "Snapshot is not DatasetSnapshot",
		},
		{
			name:       "wrong kind without aspects list",
			raw:        `{"proposedSnapshot":{"com.linkedin.pegasus2avro.metadata.snapshot.ChartSnapshot":{"urn":"urn:li:chart:(looker,1)"}}}`,
			wantBucket: "urn:li:chart:(looker,1)",
			wantMsg:    "Snapshot is not DatasetSnapshot",
		},
		{
			name:       "missing urn",
			raw:        `{"proposedSnapshot":{"com.linkedin.pegasus2avro.metadata.snapshot.DatasetSnapshot":{"aspects":[]}}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "Item 4 is invalid snapshot",
		},
		{
			name:       "two snapshot kinds",
			raw:        `{"proposedSnapshot":{"a":{"urn":"urn:li:x:1","aspects":[]},"b":{"urn":"urn:li:x:2","aspects":[]}}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "exactly one snapshot",
		},
		{
			name:       "aspect union with two members",
			raw:        string(snapshotJSON(models.DatasetSnapshotKey, datasetURN, `[{"a":{},"b":{}}]`)),
			wantBucket: models.UnableToInfer,
			wantMsg:    "exactly one member",
		},
		{
			name:       "ownership without owners",
			raw:        string(snapshotJSON(models.DatasetSnapshotKey, datasetURN, `[{"com.linkedin.pegasus2avro.common.Ownership":{}}]`)),
			wantBucket: models.UnableToInfer,
			wantMsg:    "no owners list",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(4, json.RawMessage(tt.raw))
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.wantBucket, res.Err.Bucket)
			assert.Contains(t, res.Err.Message, tt.wantMsg)
			assert.Equal(t, 4, res.Err.Index)
		})
	}
}

func TestClassifyProposal(t *testing.T) {
	raw := json.RawMessage(`{
		"entityType": "dataset",
		"entityUrn": "` + datasetURN + `",
		"changeType": "UPSERT",
		"aspectName": "ownership",
		"aspect": {"value": "{\"owners\":[{\"owner\":\"urn:li:corpGroup:eng\",\"type\":\"DATAOWNER\"}]}", "contentType": "application/json"}
	}`)

	res := Classify(1, raw)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, models.KindProposal, res.Record.Kind())
	require.Len(t, res.Ownership, 1)
	assert.Equal(t, []string{"urn:li:corpGroup:eng"}, res.Ownership[0].OwnerURNs())

	prop := res.Record.(*models.ProposalRecord)
	assert.Equal(t, models.ChangeUpsert, prop.ChangeType)
	assert.JSONEq(t, `{"owners":[{"owner":"urn:li:corpGroup:eng","type":"DATAOWNER"}]}`, string(prop.AspectValue))
}

func TestClassifyProposalNonOwnershipAspect(t *testing.T) {
	raw := json.RawMessage(`{"entityType":"container","entityUrn":"urn:li:container:abc","changeType":"UPSERT",
		"aspectName":"containerProperties","aspect":{"json":{"name":"raw"}}}`)
	res := Classify(0, raw)
	require.True(t, res.OK())
	assert.Equal(t, models.EntityContainer, res.EntityType)
	assert.Empty(t, res.Ownership)
}

func TestClassifyProposalErrors(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantMsg    string
	}{
		{
			name:       "chart proposal",
			raw:        `{"entityType":"chart","entityUrn":"urn:li:chart:1","changeType":"UPSERT","aspectName":"status","aspect":{"json":{"removed":false}}}`,
			wantBucket: "urn:li:chart:1",
			wantMsg:    "aspect is not a dataset or container aspect",
		},
		{
			name:       "unknown change type",
			raw:        `{"entityType":"dataset","entityUrn":"urn:li:dataset:x","changeType":"MERGE","aspectName":"status","aspect":{"json":{}}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "unknown changeType",
		},
		{
			name:       "aspect value not an object",
			raw:        `{"entityType":"dataset","entityUrn":"urn:li:dataset:x","changeType":"UPSERT","aspectName":"status","aspect":{"value":"[1,2]"}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "not a JSON object",
		},
		{
			name:       "aspect name without aspect",
			raw:        `{"entityType":"dataset","entityUrn":"urn:li:dataset:x","changeType":"UPSERT","aspectName":"status"}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "aspect is missing",
		},
		{
			name:       "owner without type",
			raw:        `{"entityType":"dataset","entityUrn":"urn:li:dataset:x","changeType":"UPSERT","aspectName":"ownership","aspect":{"json":{"owners":[{"owner":"urn:li:corpuser:bob"}]}}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    `unknown ownership type ""`,
		},
		{
			name:       "bad owner urn",
			raw:        `{"entityType":"dataset","entityUrn":"urn:li:dataset:x","changeType":"UPSERT","aspectName":"ownership","aspect":{"json":{"owners":[{"owner":"bob"}]}}}`,
			wantBucket: models.UnableToInfer,
			wantMsg:    "not an urn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(2, json.RawMessage(tt.raw))
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.wantBucket, res.Err.Bucket)
			assert.Contains(t, res.Err.Message, tt.wantMsg)
		})
	}
}

func TestClassifyUnparseable(t *testing.T) {
	for _, raw := range []string{`42`, `"text"`, `{"foo":"bar"}`, `[1]`} {
		res := Classify(7, json.RawMessage(raw))
		require.NotNil(t, res.Err, raw)
		assert.Equal(t, models.UnableToInfer, res.Err.Bucket)
		assert.Equal(t, models.KindUnparseable, res.Record.Kind())
		assert.Contains(t, res.Err.Message, "Item 7 in file is invalid object")
	}
}

func TestSnapshotTakesPrecedence(t *testing.T) {
	raw := json.RawMessage(`{"proposedSnapshot":{"` + models.DatasetSnapshotKey + `":{"urn":"` + datasetURN + `","aspects":[]}},"aspect":{"json":{}}}`)
	res := Classify(0, raw)
	require.True(t, res.OK())
	assert.Equal(t, models.KindSnapshot, res.Record.Kind())
}

func TestAspectValueForms(t *testing.T) {
	for _, raw := range []string{
		`{"value":"{\"a\":1}","contentType":"application/json"}`,
		`{"value":{"a":1}}`,
		`{"json":{"a":1}}`,
	} {
		v, err := AspectValue(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.JSONEq(t, `{"a":1}`, string(v))
	}

	_, err := AspectValue(json.RawMessage(`{"value":"{}","contentType":"text/plain"}`))
	assert.Error(t, err)
}
