package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/checklist"
	"github.com/raphaelgruber/datahub-gate/internal/classify"
	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

// Decision is the verdict for one checklist entry.
type Decision struct {
	URN          string   `json:"urn"`
	Accepted     bool     `json:"accepted"`
	AddOwnership bool     `json:"add_ownership"`
	Errors       []string `json:"errors,omitempty"`
}

// Verdict is the outcome of validating a whole batch. A batch is accepted
// only when every entry is.
type Verdict struct {
	Accepted  bool       `json:"accepted"`
	Decisions []Decision `json:"decisions"`
	// Report holds one line per rejected entry: "<urn>: <error>. <error>".
	Report []string `json:"report"`
}

// Rejected returns the decisions that were not accepted.
func (v Verdict) Rejected() []Decision {
	var out []Decision
	for _, d := range v.Decisions {
		if !d.Accepted {
			out = append(out, d)
		}
	}
	return out
}

// Evaluate decides every entry of c and marks the entries whose submitter
// must be granted ownership. It does not consult the catalog and is safe to
// call more than once.
func Evaluate(c *checklist.Checklist) Verdict {
	verdict := Verdict{Accepted: true, Decisions: []Decision{}, Report: []string{}}

	for _, entry := range c.Entries() {
		errs := append([]string{}, entry.Errors...)

		if entry.Tracked() {
			switch {
			case !entry.ExistingEntity:
				// New entities always end up owned by their creator.
				entry.AddOwnership = !entry.Retains()
			case entry.CurrentOwnership != nil && !*entry.CurrentOwnership:
				errs = append(errs, ErrNotOwner.Error())
			default:
				entry.AddOwnership = !entry.Retains()
			}
		}

		d := Decision{
			URN:          entry.URN,
			Accepted:     len(errs) == 0,
			AddOwnership: entry.AddOwnership,
			Errors:       errs,
		}
		if !d.Accepted {
			verdict.Accepted = false
			verdict.Report = append(verdict.Report, entry.URN+": "+strings.Join(errs, ". "))
		}
		verdict.Decisions = append(verdict.Decisions, d)
	}
	return verdict
}

// Validation is the result of running a batch through the validator.
type Validation struct {
	Checklist *checklist.Checklist
	// Records holds the classified records that passed classification, in
	// batch order.
	Records []models.Record
	Verdict Verdict
}

// Validator folds a batch into a checklist and evaluates it.
type Validator struct {
	oracle  checklist.Oracle
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewValidator creates a validator backed by oracle.
func NewValidator(oracle checklist.Oracle, logger *slog.Logger, collector *metrics.Collector) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{oracle: oracle, logger: logger, metrics: collector}
}

// Validate classifies entries for submitterURN and decides the batch.
func (v *Validator) Validate(ctx context.Context, submitterURN string, entries []json.RawMessage) *Validation {
	start := time.Now()
	results := classify.ClassifyAll(entries)
	c := checklist.Build(ctx, v.oracle, submitterURN, results)
	res := v.finish(c, results)

	v.metrics.RecordTiming(metrics.OpValidate, time.Since(start))
	v.logger.Debug("batch validated",
		"user", submitterURN,
		"records", len(entries),
		"entities", c.Len(),
		"accepted", res.Verdict.Accepted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// Reject builds a rejected validation for a batch that could not be split
// into records at all.
func (v *Validator) Reject(submitterURN string, reason string) *Validation {
	c := checklist.New(submitterURN)
	c.AddError(models.UnableToInfer, reason)
	return v.finish(c, nil)
}

func (v *Validator) finish(c *checklist.Checklist, results []classify.Result) *Validation {
	records := make([]models.Record, 0, len(results))
	for _, res := range results {
		if res.OK() {
			records = append(records, res.Record)
		}
	}
	return &Validation{
		Checklist: c,
		Records:   records,
		Verdict:   Evaluate(c),
	}
}
