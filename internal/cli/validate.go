package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/datahub-gate/internal/checklist"
	"github.com/raphaelgruber/datahub-gate/internal/classify"
	"github.com/raphaelgruber/datahub-gate/internal/client"
	"github.com/raphaelgruber/datahub-gate/internal/models"
	"github.com/raphaelgruber/datahub-gate/internal/service"
	"github.com/raphaelgruber/datahub-gate/internal/token"
	"github.com/spf13/cobra"
)

// errRejected makes gatectl exit non-zero for a rejected batch.
var errRejected = errors.New("batch rejected")

type validateOptions struct {
	user      string
	offline   bool
	output    string
	ownerType string
}

func newValidateCmd(a *app) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a metadata batch against the ownership rules",
		Long: `Run a batch file through the same checks the upload gate applies and print
the verdict together with the ownership records that would be added.

Online mode asks the catalog which entities exist and who owns them. With
--offline every entity is treated as new.

Examples:
  gatectl validate batch.json --user alice
  gatectl validate batch.json --user alice --offline -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.output); err != nil {
				return err
			}
			if opts.ownerType == "" {
				opts.ownerType = a.cfg.OwnerType
			}
			if !models.ValidOwnerType(opts.ownerType) {
				return fmt.Errorf("unknown owner type %q", opts.ownerType)
			}
			oracle, err := a.oracle(opts.offline)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			report, err := runValidate(cmd.Context(), oracle, opts, data)
			if err != nil {
				return err
			}
			if err := writeValidateReport(cmd.OutOrStdout(), opts.output, report); err != nil {
				return err
			}
			if !report.Accepted {
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "submitting user id")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "do not query the catalog; treat every entity as new")
	cmd.Flags().StringVarP(&opts.output, "output", "o", formatText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&opts.ownerType, "owner-type", "", "owner type granted to the submitter (default from GATE_OWNER_TYPE)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// oracle returns the catalog client or, offline, a stand-in that knows no
// entities.
func (a *app) oracle(offline bool) (checklist.Oracle, error) {
	if offline {
		return offlineOracle{}, nil
	}
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required to query the catalog (or use --offline)")
	}
	issuer := token.NewIssuer(a.cfg.JWTSecret, a.cfg.TokenIssuer, a.cfg.TokenTTL)
	return client.New(a.cfg.GraphQLURL(), issuer, a.cfg.SystemActor, a.cfg.QueryTimeout,
		client.WithLogger(a.logger)), nil
}

// offlineOracle answers as if the catalog were empty.
type offlineOracle struct{}

func (offlineOracle) EntityExists(context.Context, string) bool { return false }

func (offlineOracle) IsOwner(context.Context, string, string, string) bool { return false }

// entityReport is the per-entity part of a validate report.
type entityReport struct {
	URN          string   `json:"urn" yaml:"urn"`
	EntityType   string   `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Existing     bool     `json:"existing" yaml:"existing"`
	Retains      bool     `json:"retains_ownership" yaml:"retains_ownership"`
	AddOwnership bool     `json:"add_ownership" yaml:"add_ownership"`
	Errors       []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// patchReport describes one ownership record the gate would add.
type patchReport struct {
	URN    string   `json:"urn" yaml:"urn"`
	Owners []string `json:"owners" yaml:"owners"`
}

type validateReport struct {
	User     string         `json:"user" yaml:"user"`
	Records  int            `json:"records" yaml:"records"`
	Accepted bool           `json:"accepted" yaml:"accepted"`
	Entities []entityReport `json:"entities" yaml:"entities"`
	Patches  []patchReport  `json:"patches" yaml:"patches"`
	Report   []string       `json:"report" yaml:"report"`
}

func runValidate(ctx context.Context, oracle checklist.Oracle, opts *validateOptions, data []byte) (*validateReport, error) {
	user := strings.TrimSpace(opts.user)
	if user == "" {
		return nil, errors.New("--user is required")
	}
	userURN := models.MakeUserURN(user)
	validator := service.NewValidator(oracle, nil, nil)

	var validation *service.Validation
	records := 0
	entries, err := classify.ParseBatch(data)
	if err != nil {
		validation = validator.Reject(userURN, err.Error())
	} else {
		records = len(entries)
		validation = validator.Validate(ctx, userURN, entries)
	}

	report := &validateReport{
		User:     userURN,
		Records:  records,
		Accepted: validation.Verdict.Accepted,
		Entities: []entityReport{},
		Patches:  []patchReport{},
		Report:   validation.Verdict.Report,
	}
	decisions := make(map[string]service.Decision, len(validation.Verdict.Decisions))
	for _, d := range validation.Verdict.Decisions {
		decisions[d.URN] = d
	}
	for _, e := range validation.Checklist.Entries() {
		report.Entities = append(report.Entities, entityReport{
			URN:          e.URN,
			EntityType:   e.EntityType,
			Existing:     e.ExistingEntity,
			Retains:      e.Retains(),
			AddOwnership: e.AddOwnership,
			Errors:       decisions[e.URN].Errors,
		})
	}
	if !report.Accepted {
		return report, nil
	}

	patches, err := service.NewPatcher(opts.ownerType).Patch(validation.Checklist)
	if err != nil {
		return nil, err
	}
	for _, p := range patches {
		ownership, err := models.DecodeOwnership(p.AspectValue)
		if err != nil {
			return nil, err
		}
		report.Patches = append(report.Patches, patchReport{URN: p.EntityURN, Owners: ownership.OwnerURNs()})
	}
	return report, nil
}

func writeValidateReport(w io.Writer, format string, r *validateReport) error {
	if format != formatText {
		return render(w, format, r)
	}
	st := newStyles(w, defaultTheme)

	verdict := st.accepted.Render("ACCEPTED")
	if !r.Accepted {
		verdict = st.rejected.Render("REJECTED")
	}
	fmt.Fprintf(w, "%s  %d records from %s\n\n", verdict, r.Records, r.User)

	fmt.Fprintln(w, st.header.Render("Entities"))
	for _, e := range r.Entities {
		state := "new"
		if e.Existing {
			state = "existing"
		}
		fmt.Fprintf(w, "  %-70s %-9s retains=%t\n", e.URN, state, e.Retains)
		for _, msg := range e.Errors {
			fmt.Fprintf(w, "    %s\n", st.rejected.Render(msg))
		}
	}

	if len(r.Report) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.header.Render("Rejections"))
		for _, line := range r.Report {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if len(r.Patches) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.header.Render("Ownership added"))
		for _, p := range r.Patches {
			fmt.Fprintf(w, "  %s  %s\n", p.URN, st.patch.Render(strings.Join(p.Owners, ", ")))
		}
	}
	if r.Accepted && len(r.Patches) == 0 {
		fmt.Fprintf(w, "\n%s\n", st.hint.Render("submitter keeps ownership of every entity; nothing to add"))
	}
	return nil
}
