package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/raphaelgruber/datahub-gate/internal/ingest"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

const (
	alice = "urn:li:corpuser:alice"
	bob   = "urn:li:corpuser:bob"
	dsX   = "urn:li:dataset:(urn:li:dataPlatform:hive,x,PROD)"
	dsY   = "urn:li:dataset:(urn:li:dataPlatform:hive,y,PROD)"
)

// fakeCatalog is an in-memory oracle. Applying dispatched ownership
// proposals to it lets tests re-validate a patched batch.
type fakeCatalog struct {
	mu     sync.Mutex
	exists map[string]bool
	owners map[string]map[string]bool
	calls  int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		exists: map[string]bool{alice: true, bob: true},
		owners: map[string]map[string]bool{},
	}
}

func (f *fakeCatalog) addEntity(urn string, owners ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists[urn] = true
	f.owners[urn] = map[string]bool{}
	for _, o := range owners {
		f.owners[urn][o] = true
	}
}

func (f *fakeCatalog) EntityExists(_ context.Context, urn string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.exists[urn]
}

func (f *fakeCatalog) IsOwner(_ context.Context, urn, user, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.owners[urn][user]
}

// apply writes records into the catalog the way ingestion would.
func (f *fakeCatalog) apply(records []models.Record) {
	for _, rec := range records {
		var ownership *models.OwnershipAspect
		switch r := rec.(type) {
		case *models.ProposalRecord:
			if r.IsOwnership() {
				ownership, _ = models.DecodeOwnership(r.AspectValue)
			}
		case *models.SnapshotRecord:
			for _, a := range r.Aspects {
				if a.IsOwnership() {
					ownership, _ = models.DecodeOwnership(a.Value)
				}
			}
		}
		f.mu.Lock()
		f.exists[rec.URN()] = true
		if ownership != nil {
			f.owners[rec.URN()] = map[string]bool{}
			for _, o := range ownership.Owners {
				f.owners[rec.URN()][o.Owner] = true
			}
		}
		f.mu.Unlock()
	}
}

type fakeDispatcher struct {
	records []models.Record
	token   string
	report  *ingest.Report
	err     error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, records []models.Record, token string) (*ingest.Report, error) {
	d.records = append(d.records, records...)
	d.token = token
	if d.err != nil {
		return &ingest.Report{}, d.err
	}
	if d.report != nil {
		return d.report, nil
	}
	return &ingest.Report{RecordsWritten: len(records), Failures: []ingest.Failure{}, Warnings: []string{}}, nil
}

func snapshot(urn string, owners ...string) string {
	aspects := `[{"com.linkedin.pegasus2avro.common.Status":{"removed":false}}]`
	if len(owners) > 0 {
		aspects = `[{"com.linkedin.pegasus2avro.common.Ownership":` + ownershipJSON(owners...) + `}]`
	}
	return `{"proposedSnapshot":{"com.linkedin.pegasus2avro.metadata.snapshot.DatasetSnapshot":{"urn":"` + urn + `","aspects":` + aspects + `}}}`
}

func ownershipProposal(urn string, owners ...string) string {
	value, _ := json.Marshal(ownershipJSON(owners...))
	return `{"entityType":"dataset","entityUrn":"` + urn + `","changeType":"UPSERT","aspectName":"ownership","aspect":{"value":` + string(value) + `,"contentType":"application/json"}}`
}

func ownershipJSON(owners ...string) string {
	parts := make([]string, 0, len(owners))
	for _, o := range owners {
		parts = append(parts, `{"owner":"`+o+`","type":"DATAOWNER"}`)
	}
	return `{"owners":[` + strings.Join(parts, ",") + `]}`
}

func batch(entries ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, json.RawMessage(e))
	}
	return out
}

func batchBytes(entries ...string) []byte {
	return []byte("[" + strings.Join(entries, ",") + "]")
}
