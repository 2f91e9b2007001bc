package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// OwnerKind tells user owners from group owners.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "CorpUser"
	OwnerGroup OwnerKind = "CorpGroup"
)

// Owner is an owner of a catalog entity.
type Owner struct {
	URN  string
	Kind OwnerKind
}

const existenceQuery = `
	query existence($urn: String!) {
		entityExists(urn: $urn)
	}
`

const groupsQuery = `
	query groups($urn: String!) {
		corpUser(urn: $urn) {
			relationships(input: {types: "IsMemberOfGroup", direction: OUTGOING}) {
				count
				relationships { entity { urn } }
			}
		}
	}
`

// ownersQuery is written for datasets. The root field is renamed to build
// the query for every other entity type.
const ownersQuery = `
	query owners($urn: String!) {
		dataset(urn: $urn) {
			ownership {
				owners {
					owner {
						... on CorpUser { __typename urn }
						... on CorpGroup { __typename urn }
					}
				}
			}
		}
	}
`

// ownerQueries holds the owners query per queryable entity type. The root
// field name is the entity type, so only known types get a query.
var ownerQueries = map[string]string{}

func init() {
	mustParse(existenceQuery)
	mustParse(groupsQuery)
	template := mustParse(ownersQuery)
	for _, entityType := range []string{"dataset", "container", "chart", "dashboard", "dataFlow", "dataJob"} {
		ownerQueries[entityType] = withRootField(template, entityType)
	}
}

// mustParse checks that a query document is well formed.
func mustParse(query string) *ast.QueryDocument {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		panic(fmt.Sprintf("client: invalid query: %v", err))
	}
	return doc
}

// withRootField prints the single operation of doc with its root field
// renamed to name. doc is left untouched.
func withRootField(doc *ast.QueryDocument, name string) string {
	op := *doc.Operations[0]
	root := *op.SelectionSet[0].(*ast.Field)
	root.Name = name
	root.Alias = name
	op.SelectionSet = ast.SelectionSet{&root}

	var buf strings.Builder
	formatter.NewFormatter(&buf).FormatQueryDocument(&ast.QueryDocument{
		Operations: ast.OperationList{&op},
	})
	return buf.String()
}

// SupportsOwnerLookup reports whether OwnersOf can query entityType.
func SupportsOwnerLookup(entityType string) bool {
	_, ok := ownerQueries[entityType]
	return ok
}

// EntityExistsErr reports whether urn exists in the catalog.
func (c *Client) EntityExistsErr(ctx context.Context, urn string) (bool, error) {
	var result struct {
		EntityExists bool `json:"entityExists"`
	}
	err := c.timed(metrics.OpEntityExists, func() error {
		return c.Execute(ctx, existenceQuery, map[string]any{"urn": urn}, &result)
	})
	if err != nil {
		return false, fmt.Errorf("entity exists %s: %w", urn, err)
	}
	return result.EntityExists, nil
}

// EntityExists reports whether urn exists. Lookup failures are logged and read
// as false.
func (c *Client) EntityExists(ctx context.Context, urn string) bool {
	exists, err := c.EntityExistsErr(ctx, urn)
	if err != nil {
		c.logger.Warn("existence lookup failed", "urn", urn, "error", err)
		return false
	}
	return exists
}

// OwnersOf returns the direct owners of urn.
func (c *Client) OwnersOf(ctx context.Context, urn, entityType string) ([]Owner, error) {
	query, ok := ownerQueries[entityType]
	if !ok {
		return nil, fmt.Errorf("owners of %s: unsupported entity type %q", urn, entityType)
	}

	var result map[string]*struct {
		Ownership *struct {
			Owners []struct {
				Owner struct {
					Typename string `json:"__typename"`
					URN      string `json:"urn"`
				} `json:"owner"`
			} `json:"owners"`
		} `json:"ownership"`
	}
	err := c.timed(metrics.OpOwnersOf, func() error {
		return c.Execute(ctx, query, map[string]any{"urn": urn}, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("owners of %s: %w", urn, err)
	}

	entity := result[entityType]
	if entity == nil || entity.Ownership == nil {
		return nil, nil
	}
	owners := make([]Owner, 0, len(entity.Ownership.Owners))
	for _, o := range entity.Ownership.Owners {
		if o.Owner.URN == "" {
			continue
		}
		owners = append(owners, Owner{URN: o.Owner.URN, Kind: OwnerKind(o.Owner.Typename)})
	}
	return owners, nil
}

// GroupsOf returns the urns of the groups userURN is a member of.
func (c *Client) GroupsOf(ctx context.Context, userURN string) ([]string, error) {
	var result struct {
		CorpUser *struct {
			Relationships struct {
				Count         int `json:"count"`
				Relationships []struct {
					Entity struct {
						URN string `json:"urn"`
					} `json:"entity"`
				} `json:"relationships"`
			} `json:"relationships"`
		} `json:"corpUser"`
	}
	err := c.timed(metrics.OpGroupsOf, func() error {
		return c.Execute(ctx, groupsQuery, map[string]any{"urn": userURN}, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("groups of %s: %w", userURN, err)
	}
	if result.CorpUser == nil {
		return nil, nil
	}

	groups := make([]string, 0, len(result.CorpUser.Relationships.Relationships))
	for _, rel := range result.CorpUser.Relationships.Relationships {
		groups = append(groups, rel.Entity.URN)
	}
	return groups, nil
}

// IsOwner reports whether userURN owns urn directly or through one of its
// groups. Lookup failures are logged and read as false.
func (c *Client) IsOwner(ctx context.Context, urn, userURN, entityType string) bool {
	log := c.logger.With("urn", urn, "user", userURN)

	owners, err := c.OwnersOf(ctx, urn, entityType)
	if err != nil {
		log.Warn("owner lookup failed", "error", err)
		return false
	}

	groupOwners := make(map[string]bool)
	for _, owner := range owners {
		if owner.URN == userURN {
			return true
		}
		if owner.Kind == OwnerGroup || models.IsGroupURN(owner.URN) {
			groupOwners[owner.URN] = true
		}
	}
	if len(groupOwners) == 0 {
		return false
	}

	groups, err := c.GroupsOf(ctx, userURN)
	if err != nil {
		log.Warn("group lookup failed", "error", err)
		return false
	}
	for _, group := range groups {
		if groupOwners[group] {
			log.Debug("owner through group", slog.String("group", group))
			return true
		}
	}
	return false
}
