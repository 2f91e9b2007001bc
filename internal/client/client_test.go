package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	dataset = "urn:li:dataset:(urn:li:dataPlatform:hive,orders,PROD)"
	alice   = "urn:li:corpuser:alice"
)

type staticTokens string

func (s staticTokens) Mint(actor string) (string, error) {
	return string(s) + ":" + actor, nil
}

// fakeGMS answers GraphQL queries by the operation keyword found in the query.
func fakeGMS(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok:datahub", r.Header.Get("Authorization"))

		var req graphQLRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		for keyword, body := range answers {
			if strings.Contains(req.Query, keyword) {
				if body == "500" {
					http.Error(w, "boom", http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
				return
			}
		}
		t.Errorf("unexpected query: %s", req.Query)
	}))
}

func newTestClient(url string, collector *metrics.Collector) *Client {
	return New(url, staticTokens("tok"), "datahub", 5*time.Second, WithMetrics(collector))
}

func TestEntityExists(t *testing.T) {
	srv := fakeGMS(t, map[string]string{
		"entityExists": `{"data":{"entityExists":true}}`,
	})
	defer srv.Close()

	collector := metrics.NewCollector()
	c := newTestClient(srv.URL, collector)
	assert.True(t, c.EntityExists(context.Background(), dataset))
	assert.Equal(t, int64(1), collector.Snapshot().Operations[metrics.OpEntityExists].Count)
}

func TestEntityExistsFailsClosed(t *testing.T) {
	srv := fakeGMS(t, map[string]string{"entityExists": "500"})
	defer srv.Close()

	collector := metrics.NewCollector()
	c := newTestClient(srv.URL, collector)
	assert.False(t, c.EntityExists(context.Background(), dataset))

	_, err := c.EntityExistsErr(context.Background(), dataset)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int64(2), collector.Snapshot().Operations[metrics.OpEntityExists].Failures)
}

func TestOwnersOf(t *testing.T) {
	srv := fakeGMS(t, map[string]string{
		"ownership": `{"data":{"dataset":{"ownership":{"owners":[
			{"owner":{"__typename":"CorpUser","urn":"urn:li:corpuser:alice"}},
			{"owner":{"__typename":"CorpGroup","urn":"urn:li:corpGroup:eng"}}
		]}}}}`,
	})
	defer srv.Close()

	owners, err := newTestClient(srv.URL, nil).OwnersOf(context.Background(), dataset, "dataset")
	require.NoError(t, err)
	assert.Equal(t, []Owner{
		{URN: alice, Kind: OwnerUser},
		{URN: "urn:li:corpGroup:eng", Kind: OwnerGroup},
	}, owners)
}

func TestOwnersOfUnknownTypeNeverQueries(t *testing.T) {
	c := New("http://127.0.0.1:0", nil, "", time.Second)
	_, err := c.OwnersOf(context.Background(), "urn:li:x:1", "query{__schema}")
	assert.ErrorContains(t, err, "unsupported entity type")
	assert.False(t, SupportsOwnerLookup("notAType"))
	assert.True(t, SupportsOwnerLookup("container"))
}

func TestOwnerQueriesTargetEntityType(t *testing.T) {
	for entityType, query := range ownerQueries {
		t.Run(entityType, func(t *testing.T) {
			doc, err := parser.ParseQuery(&ast.Source{Input: query})
			require.NoError(t, err)
			require.Len(t, doc.Operations, 1)
			op := doc.Operations[0]
			assert.Equal(t, "owners", op.Name)
			require.Len(t, op.VariableDefinitions, 1)
			assert.Equal(t, "urn", op.VariableDefinitions[0].Variable)

			root, ok := op.SelectionSet[0].(*ast.Field)
			require.True(t, ok)
			assert.Equal(t, entityType, root.Name)
			assert.Equal(t, entityType, root.Alias)
			assert.Contains(t, query, "ownership")
		})
	}

	template := mustParse(ownersQuery)
	_ = withRootField(template, "chart")
	assert.Equal(t, "dataset", template.Operations[0].SelectionSet[0].(*ast.Field).Name, "template is not modified")
}

func TestOwnersOfEntityWithoutOwnership(t *testing.T) {
	srv := fakeGMS(t, map[string]string{
		"ownership": `{"data":{"container":{"ownership":null}}}`,
	})
	defer srv.Close()

	owners, err := newTestClient(srv.URL, nil).OwnersOf(context.Background(), "urn:li:container:c", "container")
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestIsOwner(t *testing.T) {
	tests := []struct {
		name   string
		owners string
		groups string
		user   string
		want   bool
	}{
		{
			name:   "direct owner",
			owners: `{"data":{"dataset":{"ownership":{"owners":[{"owner":{"__typename":"CorpUser","urn":"urn:li:corpuser:alice"}}]}}}}`,
			user:   alice,
			want:   true,
		},
		{
			name:   "owner through group",
			owners: `{"data":{"dataset":{"ownership":{"owners":[{"owner":{"__typename":"CorpGroup","urn":"urn:li:corpGroup:eng"}}]}}}}`,
			groups: `{"data":{"corpUser":{"relationships":{"count":1,"relationships":[{"entity":{"urn":"urn:li:corpGroup:eng"}}]}}}}`,
			user:   alice,
			want:   true,
		},
		{
			name:   "member of another group",
			owners: `{"data":{"dataset":{"ownership":{"owners":[{"owner":{"__typename":"CorpGroup","urn":"urn:li:corpGroup:eng"}}]}}}}`,
			groups: `{"data":{"corpUser":{"relationships":{"count":1,"relationships":[{"entity":{"urn":"urn:li:corpGroup:ops"}}]}}}}`,
			user:   alice,
			want:   false,
		},
		{
			name:   "group lookup fails",
			owners: `{"data":{"dataset":{"ownership":{"owners":[{"owner":{"__typename":"CorpGroup","urn":"urn:li:corpGroup:eng"}}]}}}}`,
			groups: "500",
			user:   alice,
			want:   false,
		},
		{
			name:   "owner lookup fails",
			owners: "500",
			user:   alice,
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := map[string]string{"ownership": tt.owners}
			if tt.groups != "" {
				answers["IsMemberOfGroup"] = tt.groups
			}
			srv := fakeGMS(t, answers)
			defer srv.Close()

			got := newTestClient(srv.URL, nil).IsOwner(context.Background(), dataset, tt.user, "dataset")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteSurfacesGraphQLErrors(t *testing.T) {
	srv := fakeGMS(t, map[string]string{
		"entityExists": `{"errors":[{"message":"Unauthorized"}]}`,
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).EntityExistsErr(context.Background(), dataset)
	assert.ErrorContains(t, err, "Unauthorized")
}
