package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/store"
)

// NewPlaybookCommand creates the playbook command group.
func NewPlaybookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Compile, publish, and list playbook templates",
	}

	cmd.AddCommand(newPlaybookCompileCommand(rootOpts))
	cmd.AddCommand(newPlaybookPublishCommand(rootOpts))
	cmd.AddCommand(newPlaybookListCommand(rootOpts))

	return cmd
}

// CompiledPlaybook is the per-template summary in compile output.
type CompiledPlaybook struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Name    string `json:"name"`
	Steps   int    `json:"steps"`
	Path    string `json:"path"`
}

func newPlaybookCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <dir>",
		Short: "Compile CUE playbook templates",
		Long: `Compile every CUE playbook template under a directory and report a summary.

Compilation validates the template shape: id, version, name, purpose, and an
ordered list of steps each declaring at least one payload field.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybookCompile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPlaybookCompile(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, loadErrors := LoadPlaybooks(dir, LoadModeCollectAll)
	if result == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)
	for _, pb := range result.Playbooks {
		formatter.VerboseLog("Compiled playbook: %s v%d (%s)", pb.Template.ID, pb.Template.Version, pb.Path)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	summaries := make([]CompiledPlaybook, 0, len(result.Playbooks))
	for _, pb := range result.Playbooks {
		summaries = append(summaries, CompiledPlaybook{
			ID:      pb.Template.ID,
			Version: pb.Template.Version,
			Name:    pb.Template.Name,
			Steps:   pb.Template.TotalSteps(),
			Path:    pb.Path,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d playbook(s)\n\n", len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(formatter.Writer, "  %s v%d: %s, %d step(s)\n", s.ID, s.Version, s.Name, s.Steps)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // include all errors
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *playbook.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

func newPlaybookPublishCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a playbook template version",
		Long: `Compile one CUE playbook file and publish it to the database.

Published versions are immutable: publishing the same (id, version) pair
twice fails. Ship changes as a new version under the same id.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybookPublish(rootOpts, database, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPlaybookPublish(opts *RootOptions, database, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	src, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("reading %s: %v", path, err), nil)
		return WrapExitError(ExitCommandError, "failed to read playbook file", err)
	}

	tmpl, err := playbook.CompileSource(path, string(src))
	if err != nil {
		code, message := parseCompileError(err)
		return outputCompileError(formatter, code, message)
	}

	st, err := openStore(database)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Templates().Publish(cmd.Context(), tmpl, string(src), time.Now().UTC()); err != nil {
		if store.IsAlreadyExists(err) {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "version already published", err)
		}
		return WrapExitError(ExitCommandError, "failed to publish playbook", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(CompiledPlaybook{
			ID:      tmpl.ID,
			Version: tmpl.Version,
			Name:    tmpl.Name,
			Steps:   tmpl.TotalSteps(),
			Path:    path,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Published %s v%d (%d step(s))\n", tmpl.ID, tmpl.Version, tmpl.TotalSteps())
	return nil
}

func newPlaybookListCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List published playbook versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybookList(rootOpts, database, cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPlaybookList(opts *RootOptions, database string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	st, err := openStore(database)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.Templates().List(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list playbooks", err)
	}

	if formatter.Format == "json" {
		rows := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, map[string]any{
				"id":         info.ID,
				"version":    info.Version,
				"name":       info.Name,
				"steps":      info.Steps,
				"created_at": info.CreatedAt.Format(time.RFC3339),
			})
		}
		return formatter.Success(rows)
	}

	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No playbooks published.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(formatter.Writer, "%s v%d  %s  %d step(s)  %s\n",
			info.ID, info.Version, info.Name, info.Steps, info.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
