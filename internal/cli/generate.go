package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	count    int
	platform string
	owner    string
	prefix   string
	output   string
}

func newGenerateCmd(a *app) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a test metadata batch",
		Long: `Generate a batch file for exercising the upload gate. Each dataset gets a
snapshot with schema, ownership and browse paths, followed by a
datasetProperties proposal.

Examples:
  gatectl generate --count 10 --platform hive --owner urn:li:corpuser:alice -o batch.json
  gatectl generate --count 3 --owner urn:li:corpuser:bob`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := generateBatch(opts, time.Now())
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(records); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			a.logger.Debug("batch generated", "records", len(records), "output", opts.output)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of datasets")
	cmd.Flags().StringVarP(&opts.platform, "platform", "p", "hive", "data platform of the datasets")
	cmd.Flags().StringVar(&opts.owner, "owner", "", "owner urn written into every ownership aspect (none when empty)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "generated", "dataset name prefix")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

// generateBatch builds two records per dataset: a snapshot and a
// datasetProperties proposal.
func generateBatch(opts *generateOptions, now time.Time) ([]models.Record, error) {
	if opts.count < 1 {
		return nil, errors.New("--count must be at least 1")
	}
	if opts.owner != "" && !models.IsURN(opts.owner) {
		return nil, fmt.Errorf("--owner must be an urn, got %q", opts.owner)
	}

	platformURN := models.MakePlatformURN(opts.platform)
	stamp := models.AuditStamp{Time: now.UnixMilli(), Actor: "urn:li:corpuser:datahub"}
	run := uuid.NewString()[:8]

	records := make([]models.Record, 0, opts.count*2)
	for i := range opts.count {
		name := fmt.Sprintf("%s_%s_%d", opts.prefix, run, i)
		urn := models.MakeDatasetURN(opts.platform, name, models.DefaultEnv)

		aspects := []models.Aspect{
			models.SchemaMetadataAspect(platformURN, stamp, []models.SchemaField{
				{FieldPath: "id", Type: models.FieldNumber, NativeDataType: "int", Description: "primary key"},
				{FieldPath: "name", Type: models.FieldString, NativeDataType: "string"},
				{FieldPath: "created_at", Type: models.FieldTime, NativeDataType: "timestamp"},
			}),
			models.BrowsePathsAspect([]string{fmt.Sprintf("/%s/%s/%s", models.DefaultEnv, opts.platform, name)}),
		}
		if opts.owner != "" {
			aspects = append(aspects, models.OwnershipSnapshotAspect(models.OwnershipAspect{
				Owners:       []models.Owner{{Owner: opts.owner, Type: models.OwnerDataOwner}},
				LastModified: &stamp,
			}))
		}
		records = append(records, models.NewDatasetSnapshot(urn, aspects...))

		props, err := models.NewProposal(urn, models.EntityDataset, models.AspectDatasetProperties, map[string]any{
			"description":      fmt.Sprintf("Generated dataset %d", i),
			"customProperties": map[string]string{"generator": "gatectl", "run": run},
		})
		if err != nil {
			return nil, err
		}
		records = append(records, props)
	}
	return records, nil
}
