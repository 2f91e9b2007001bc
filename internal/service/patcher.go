package service

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/checklist"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

// Patcher synthesizes the ownership proposals that keep the submitter an
// owner of every entity it touches.
type Patcher struct {
	ownerType string
	now       func() time.Time
}

// NewPatcher creates a patcher granting the submitter ownerType.
func NewPatcher(ownerType string) *Patcher {
	if ownerType == "" {
		ownerType = models.OwnerTechnicalOwner
	}
	return &Patcher{ownerType: ownerType, now: time.Now}
}

// Patch returns one ownership UPSERT per entry flagged by Evaluate, in
// checklist order. Each lists the owners collected from the batch plus the
// submitter, so applying it twice leaves the same owner list.
func (p *Patcher) Patch(c *checklist.Checklist) ([]*models.ProposalRecord, error) {
	submitter := c.Submitter()
	stamp := models.AuditStamp{Time: p.now().UnixMilli(), Actor: submitter}

	var patches []*models.ProposalRecord
	for _, entry := range c.Entries() {
		if !entry.AddOwnership {
			continue
		}
		owners := make([]models.Owner, 0, len(entry.OwnersToAdd)+1)
		owners = append(owners, entry.OwnersToAdd...)
		owners = append(owners, models.Owner{Owner: submitter, Type: p.ownerType})

		rec, err := models.OwnershipProposal(entry.URN, entry.EntityType, models.OwnershipAspect{
			Owners:       owners,
			LastModified: &stamp,
		})
		if err != nil {
			return nil, fmt.Errorf("patch ownership of %s: %w", entry.URN, err)
		}
		patches = append(patches, rec)
	}
	return patches, nil
}

// Apply appends patches to records.
func Apply(records []models.Record, patches []*models.ProposalRecord) []models.Record {
	out := make([]models.Record, 0, len(records)+len(patches))
	out = append(out, records...)
	for _, p := range patches {
		out = append(out, p)
	}
	return out
}
