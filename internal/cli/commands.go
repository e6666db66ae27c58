package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/export"
	"github.com/joseph-ayodele/docingest/internal/ingest"
	"github.com/joseph-ayodele/docingest/internal/pipeline"
	"github.com/joseph-ayodele/docingest/internal/prompts"
)

func migrateCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the registry tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, rt, false)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.DB.Migrate(cmd.Context(), rt.Logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func seedPromptsCmd(rt *Runtime) *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "seed-prompts",
		Short: "Publish the agent prompt templates",
		Long: `Publish the built-in agent prompt templates, or the templates in --file.
A template is only published when its body differs from the active version,
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			templates, err := loadTemplates(file)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rt, false)
			if err != nil {
				return err
			}
			defer app.Close()
			res, err := app.Prompts.Seed(cmd.Context(), templates, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published: %d, unchanged: %d\n", res.Published, res.Unchanged)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with templates (defaults to the built-in set)")
	cmd.Flags().BoolVar(&force, "force", false, "Publish a new version even when unchanged")
	return cmd
}

func loadTemplates(file string) ([]entity.PromptTemplate, error) {
	if file == "" {
		return prompts.Defaults()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return prompts.ParseTemplates(data)
}

func registerCmd(rt *Runtime) *cobra.Command {
	var (
		tenant, scope string
		skipHidden    bool
		noCopy        bool
		process       bool
	)
	cmd := &cobra.Command{
		Use:   "register <path>...",
		Short: "Register files or directories as documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, rt, process)
			if err != nil {
				return err
			}
			defer app.Close()

			reg := app.Registrar
			if tenant != "" {
				reg.TenantID = tenant
			}
			if scope != "" {
				reg.ScopeID = scope
			}
			reg.CopyIn = !noCopy

			var results []ingest.RegistrationResult
			for _, p := range args {
				st, err := os.Stat(p)
				if err != nil {
					return err
				}
				if st.IsDir() {
					rs, stats, err := reg.RegisterDirectory(cmd.Context(), p, skipHidden)
					results = append(results, rs...)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: scanned %d, matched %d, registered %d, already registered %d, failed %d\n",
						p, stats.Scanned, stats.Matched, stats.Succeeded, stats.Existing, stats.Failed)
					continue
				}
				r, err := reg.RegisterPath(cmd.Context(), p)
				if err != nil {
					r.SourcePath = p
					r.Err = err.Error()
				}
				results = append(results, r)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOCUMENT\tREF\tMIME\tEXISTING\tERROR")
			var ids []uuid.UUID
			for _, r := range results {
				id := ""
				if r.DocumentID != uuid.Nil {
					id = r.DocumentID.String()
					ids = append(ids, r.DocumentID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", id, r.StorageRef, r.MimeType, r.Existing, r.Err)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if process && len(ids) > 0 {
				return runProcess(cmd, app.Orchestrator, ids, app.Config.Pipeline.TargetLevel, app.Config.Pipeline.Concurrency)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (defaults to TENANT_ID)")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope id within the tenant (defaults to SCOPE_ID)")
	cmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "Skip dot files and directories")
	cmd.Flags().BoolVar(&noCopy, "no-copy", false, "Reject files outside the storage root instead of copying them in")
	cmd.Flags().BoolVar(&process, "process", false, "Run the pipeline on the registered documents")
	return cmd
}

func processCmd(rt *Runtime) *cobra.Command {
	var (
		target, concurrency int
		all                 bool
		limit               uint64
	)
	cmd := &cobra.Command{
		Use:   "process [document-id]...",
		Short: "Advance documents through the pipeline",
		Long: `Advance documents up to --target (1 extraction, 2 classification,
3 metadata, 4 chunking). Completed stages are skipped. With --all, every
document below the target without a failed stage is processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("%w: pass document ids or --all", common.ErrInvalidInput)
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rt, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if target == 0 {
				target = app.Config.Pipeline.TargetLevel
			}
			if concurrency == 0 {
				concurrency = app.Config.Pipeline.Concurrency
			}
			if all {
				if ids, err = app.Documents.ListBelowLevel(cmd.Context(), target, limit); err != nil {
					return err
				}
			}
			return runProcess(cmd, app.Orchestrator, ids, target, concurrency)
		},
	}
	cmd.Flags().IntVarP(&target, "target", "t", 0, "Target processing level 1-4 (defaults to PIPELINE_TARGET_LEVEL)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Documents processed in parallel (defaults to PIPELINE_CONCURRENCY)")
	cmd.Flags().BoolVar(&all, "all", false, "Process every pending document")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "With --all, cap the number of documents")
	return cmd
}

func resetCmd(rt *Runtime) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "reset <document-id>",
		Short: "Return stages to pending so they run again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := common.ParseUUID("document id", args[0])
			if err != nil {
				return err
			}
			stage, err := constants.ParseStage(from)
			if err != nil {
				return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
			}
			app, err := openApp(cmd, rt, false)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Documents.Reset(cmd.Context(), id, stage); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset from %s\n", id, stage)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", constants.StageExtraction.String(), "First stage to reset (name or level)")
	return cmd
}

// documentStatus is the status view printed by `status`.
type documentStatus struct {
	ID       string            `json:"id" yaml:"id"`
	Filename string            `json:"filename" yaml:"filename"`
	Type     string            `json:"document_type" yaml:"document_type"`
	Level    int               `json:"processing_level" yaml:"processing_level"`
	Stages   map[string]string `json:"stages" yaml:"stages"`
	Errors   map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Chunks   int               `json:"chunk_count" yaml:"chunk_count"`
	Updated  string            `json:"updated_at" yaml:"updated_at"`
}

func toStatus(d *entity.Document) documentStatus {
	st := documentStatus{
		ID:       d.ID.String(),
		Filename: d.Filename,
		Type:     string(d.Type()),
		Level:    d.ProcessingLevel,
		Stages:   map[string]string{},
		Chunks:   d.ChunkCount,
		Updated:  d.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	for _, s := range constants.Stages {
		st.Stages[s.String()] = string(d.StageStatus(s))
	}
	for s, msg := range d.StageErrors {
		if st.Errors == nil {
			st.Errors = map[string]string{}
		}
		st.Errors[s.String()] = msg
	}
	return st
}

func statusCmd(rt *Runtime) *cobra.Command {
	var (
		format string
		limit  uint64
	)
	cmd := &cobra.Command{
		Use:   "status [document-id]...",
		Short: "Show document processing status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rt, false)
			if err != nil {
				return err
			}
			defer app.Close()

			var docs []*entity.Document
			if len(ids) == 0 {
				if docs, err = app.Documents.List(cmd.Context(), limit); err != nil {
					return err
				}
			}
			for _, id := range ids {
				d, err := app.Documents.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				docs = append(docs, d)
			}
			views := make([]documentStatus, 0, len(docs))
			for _, d := range docs {
				views = append(views, toStatus(d))
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(views)
			case "table":
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DOCUMENT\tFILENAME\tTYPE\tLEVEL\tEXTRACTION\tCLASSIFICATION\tMETADATA\tCHUNKING\tCHUNKS")
				for _, v := range views {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%d\n", v.ID, v.Filename, v.Type, v.Level,
						v.Stages["extraction"], v.Stages["classification"], v.Stages["metadata"], v.Stages["chunking"], v.Chunks)
				}
				return w.Flush()
			default:
				return fmt.Errorf("%w: unknown format %q", common.ErrInvalidInput, format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (json, yaml, table)")
	cmd.Flags().Uint64Var(&limit, "limit", 100, "Documents listed when no ids are given")
	return cmd
}

func exportCmd(rt *Runtime) *cobra.Command {
	var (
		out    string
		opts   export.Options
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an XLSX report of documents, metadata and chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, rt, false)
			if err != nil {
				return err
			}
			defer app.Close()

			opts.TenantID = tenant
			b, err := app.Export.ExportXLSX(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(b))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "documents.xlsx", "Output XLSX path")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Only export this tenant")
	cmd.Flags().BoolVar(&opts.IncludeChunks, "chunks", false, "Add the chunks sheet")
	cmd.Flags().Uint64Var(&opts.Limit, "limit", 0, "Cap the number of documents (0 = all)")
	return cmd
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := common.ParseUUID("document id", a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// runProcess advances ids and prints one row per document. A document that
// failed a stage makes the command fail after the table is written.
func runProcess(cmd *cobra.Command, orch *pipeline.Orchestrator, ids []uuid.UUID, target, concurrency int) error {
	results, err := orch.ProcessMany(cmd.Context(), ids, target, concurrency)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tLEVEL\tRAN\tSKIPPED\tERROR")
	failed := 0
	for _, r := range results {
		msg := ""
		if r.Err != nil {
			failed++
			msg = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.DocumentID, r.Level, stageList(r.Ran), stageList(r.Skipped), msg)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

func stageList(stages []constants.Stage) string {
	if len(stages) == 0 {
		return "-"
	}
	out := ""
	for i, s := range stages {
		if i > 0 {
			out += ","
		}
		out += s.String()
	}
	return out
}
