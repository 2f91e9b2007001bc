// Package checklist accumulates per-entity ownership state for one uploaded
// batch. A Checklist is request scoped and not safe for concurrent use.
package checklist

import (
	"context"
	"encoding/json"

	"github.com/raphaelgruber/datahub-gate/internal/classify"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

// Oracle answers existence and ownership questions about catalog entities.
// Implementations fail closed: lookup errors read as false.
type Oracle interface {
	EntityExists(ctx context.Context, urn string) bool
	IsOwner(ctx context.Context, urn, userURN, entityType string) bool
}

// Entry is the state tracked for one entity urn.
type Entry struct {
	URN            string `json:"urn"`
	EntityType     string `json:"entity_type,omitempty"`
	ExistingEntity bool   `json:"existing_entity"`
	// CurrentOwnership is only set for existing entities.
	CurrentOwnership *bool `json:"current_ownership,omitempty"`
	// RetainsOwnership is overwritten by every ownership aspect in the batch.
	RetainsOwnership *bool          `json:"retains_ownership,omitempty"`
	OwnersToAdd      []models.Owner `json:"owners_to_add"`
	Errors           []string       `json:"errors"`
	AddOwnership     bool           `json:"add_ownership"`

	tracked bool
}

// Tracked reports whether the entity was looked up in the catalog. Entries
// that only collect errors are not tracked and are never checked for
// ownership.
func (e *Entry) Tracked() bool {
	return e.tracked
}

// Retains reports the effective retained-ownership verdict, false when unset.
func (e *Entry) Retains() bool {
	return e.RetainsOwnership != nil && *e.RetainsOwnership
}

func (e *Entry) mergeOwner(owner models.Owner) {
	for i := range e.OwnersToAdd {
		if e.OwnersToAdd[i].Owner == owner.Owner {
			e.OwnersToAdd[i].Type = owner.Type
			return
		}
	}
	e.OwnersToAdd = append(e.OwnersToAdd, owner)
}

// Checklist maps entity urns to their entries in first-seen order.
type Checklist struct {
	submitter string
	entries   map[string]*Entry
	order     []string
}

// New returns an empty checklist for a batch submitted by submitterURN.
func New(submitterURN string) *Checklist {
	return &Checklist{
		submitter: submitterURN,
		entries:   make(map[string]*Entry),
	}
}

// Submitter returns the urn of the user that submitted the batch.
func (c *Checklist) Submitter() string {
	return c.submitter
}

// Len returns the number of entries, including the unable_to_infer bucket.
func (c *Checklist) Len() int {
	return len(c.order)
}

// Get returns the entry for urn.
func (c *Checklist) Get(urn string) (*Entry, bool) {
	e, ok := c.entries[urn]
	return e, ok
}

// Entries returns all entries in the order their urn was first seen.
func (c *Checklist) Entries() []*Entry {
	out := make([]*Entry, 0, len(c.order))
	for _, urn := range c.order {
		out = append(out, c.entries[urn])
	}
	return out
}

func (c *Checklist) entry(urn string) *Entry {
	if e, ok := c.entries[urn]; ok {
		return e
	}
	e := &Entry{URN: urn, OwnersToAdd: []models.Owner{}, Errors: []string{}}
	c.entries[urn] = e
	c.order = append(c.order, urn)
	return e
}

// AddError records a problem under bucket, which is an entity urn or
// models.UnableToInfer.
func (c *Checklist) AddError(bucket, msg string) {
	e := c.entry(bucket)
	e.Errors = append(e.Errors, msg)
}

// Track makes sure urn has an entry populated from the catalog. The oracle is
// consulted at most once per urn for the life of the checklist.
func (c *Checklist) Track(ctx context.Context, oracle Oracle, urn, entityType string) *Entry {
	e := c.entry(urn)
	if e.EntityType == "" {
		e.EntityType = entityType
	}
	if e.tracked {
		return e
	}
	e.tracked = true
	e.ExistingEntity = oracle.EntityExists(ctx, urn)
	if e.ExistingEntity {
		owned := oracle.IsOwner(ctx, urn, c.submitter, e.EntityType)
		current, retains := owned, owned
		e.CurrentOwnership = &current
		e.RetainsOwnership = &retains
	}
	return e
}

// ApplyOwnership folds an ownership aspect found in the batch into the entry
// for urn. The latest aspect decides whether the submitter retains ownership;
// every other owner listed is kept for re-granting.
func (c *Checklist) ApplyOwnership(urn string, aspect *models.OwnershipAspect) {
	e := c.entry(urn)
	retains := aspect.Has(c.submitter)
	e.RetainsOwnership = &retains
	for _, owner := range aspect.Owners {
		if owner.Owner == c.submitter {
			continue
		}
		e.mergeOwner(owner)
	}
}

// Add folds one classified batch entry into the checklist.
func (c *Checklist) Add(ctx context.Context, oracle Oracle, res classify.Result) {
	if res.Err != nil {
		c.AddError(res.Err.Bucket, res.Err.Message)
		return
	}
	urn := res.Record.URN()
	c.Track(ctx, oracle, urn, res.EntityType)
	for _, aspect := range res.Ownership {
		c.ApplyOwnership(urn, aspect)
	}
}

// Build folds classified entries in batch order into a new checklist.
func Build(ctx context.Context, oracle Oracle, submitterURN string, results []classify.Result) *Checklist {
	c := New(submitterURN)
	for _, res := range results {
		c.Add(ctx, oracle, res)
	}
	return c
}

// MarshalJSON writes the checklist as an object keyed by urn.
func (c *Checklist) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.entries)
}
