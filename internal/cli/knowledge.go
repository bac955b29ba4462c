package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
)

// NewKnowledgeCommand creates the knowledge command group.
func NewKnowledgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect and override organization knowledge",
	}

	cmd.AddCommand(newKnowledgeShowCommand(rootOpts))
	cmd.AddCommand(newKnowledgeSetCommand(rootOpts))

	return cmd
}

// FieldView is one knowledge field with provenance, as rendered by the CLI.
type FieldView struct {
	Kind      string `json:"kind"`
	Value     any    `json:"value"`
	Layer     string `json:"layer"`
	Source    string `json:"source,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// KnowledgeView is the serialized aggregate for CLI output.
type KnowledgeView struct {
	OrgID   string               `json:"org_id"`
	Version int64                `json:"version"`
	Fields  map[string]FieldView `json:"fields"`
}

func knowledgeView(k *knowledge.Knowledge) KnowledgeView {
	view := KnowledgeView{
		OrgID:   k.OrgID,
		Version: k.Version,
		Fields:  make(map[string]FieldView, len(k.Fields)),
	}
	for _, key := range k.SortedKeys() {
		field := k.Fields[key]
		view.Fields[string(key)] = FieldView{
			Kind:      string(field.Value.Kind()),
			Value:     valueForOutput(field.Value),
			Layer:     string(field.SourceLayer),
			Source:    field.SourceJourneyID,
			UpdatedAt: field.UpdatedAt.Format(time.RFC3339),
		}
	}
	return view
}

func valueForOutput(v knowledge.Value) any {
	switch v := v.(type) {
	case knowledge.Text:
		return string(v)
	case knowledge.Score:
		return float64(v)
	case knowledge.List:
		return []string(v)
	}
	return v
}

func newKnowledgeShowCommand(rootOpts *RootOptions) *cobra.Command {
	var database, org string

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show an organization's knowledge aggregate",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(database)
			if err != nil {
				return err
			}
			defer st.Close()

			k, err := st.Knowledge().GetByOrg(cmd.Context(), org)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load knowledge", err)
			}
			return formatter.SuccessJSON(knowledgeView(k))
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&org, "org", "", "organization identifier (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func newKnowledgeSetCommand(rootOpts *RootOptions) *cobra.Command {
	var database, org, field, value string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Manually override a knowledge field",
		Long: `Set one knowledge field to an operator-supplied value.

The value is parsed by the field's registered kind: text fields take the raw
string, score fields a number, list fields a JSON array or comma-separated
items. The write carries manual-layer provenance and bumps the aggregate
version like any other merge.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledgeSet(rootOpts, database, org, field, value, cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&org, "org", "", "organization identifier (required)")
	cmd.Flags().StringVar(&field, "field", "", "knowledge field key (required)")
	cmd.Flags().StringVar(&value, "value", "", "field value (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func runKnowledgeSet(opts *RootOptions, database, org, field, value string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	key := knowledge.Key(field)
	kind, ok := knowledge.KindOf(key)
	if !ok {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("unknown knowledge field %q", field), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("unknown knowledge field %q", field))
	}

	parsed, err := knowledge.ParseValue(kind, value)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid field value", err)
	}

	st, err := openStore(database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	k, err := st.Knowledge().GetByOrg(ctx, org)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load knowledge", err)
	}

	fields := map[knowledge.Key]knowledge.Field{
		key: {
			Value:       parsed,
			UpdatedAt:   time.Now().UTC(),
			SourceLayer: knowledge.LayerManual,
		},
	}
	version, err := st.Knowledge().MergeFields(ctx, org, fields, k.Version)
	if err != nil {
		if store.IsVersionConflict(err) {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "concurrent update, retry", err)
		}
		return WrapExitError(ExitCommandError, "failed to write knowledge", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"org_id":  org,
			"field":   field,
			"version": version,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Set %s for %s (version %d)\n", field, org, version)
	return nil
}
