package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
	"github.com/casevault/importer/internal/store"
)

type importOptions struct {
	org          uuid.UUID
	inputDir     string
	outputDir    string
	source       string
	apply        bool
	unmapped     string
	defaultValue string
	mappingsPath string
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import legacy case data from a directory of delimited exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return runImport(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.inputDir, "input", "", "Input directory containing exported files (required)")
	cmd.Flags().StringVar(&opts.outputDir, "output", "", "Output directory for manifest (default: input dir)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Label of the legacy system, recorded in the manifest")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Apply the import to the database (default is dry-run)")
	cmd.Flags().StringVar(&opts.unmapped, "unmapped", "skip", "Policy for unmapped category values: skip, original, default")
	cmd.Flags().StringVar(&opts.defaultValue, "default-value", "", "Substitute for unmapped values when --unmapped=default")
	cmd.Flags().StringVar(&opts.mappingsPath, "mappings", "", "JSON file with mapping decisions")

	var org string
	cmd.Flags().StringVar(&org, "org", "", "Organization UUID (required)")

	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("input")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(strings.TrimSpace(org))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --org: %w", err))
		}
		opts.org = id
		return nil
	}

	return cmd
}

func runImport(ctx context.Context, opts importOptions) error {
	if strings.TrimSpace(opts.inputDir) == "" {
		return withCode(exitUsage, fmt.Errorf("--input is required"))
	}
	if opts.outputDir == "" {
		opts.outputDir = opts.inputDir
	}
	if opts.org == uuid.Nil {
		return withCode(exitUsage, fmt.Errorf("--org is required"))
	}

	policy, err := parsePolicy(opts.unmapped)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if policy == core.PolicyUseDefault && strings.TrimSpace(opts.defaultValue) == "" {
		return withCode(exitUsage, fmt.Errorf("--unmapped=default requires --default-value"))
	}

	decisions, err := readMappingsFile(opts.mappingsPath)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("--mappings: %w", err))
	}

	paths, err := listImportFiles(opts.inputDir)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("--input: %w", err))
	}
	if len(paths) == 0 {
		return withCode(exitUsage, fmt.Errorf("no delimited files (.csv, .tsv, .txt) found in %s", opts.inputDir))
	}

	cfg := loadCLIConfig()
	core.SimilarityThreshold = cfg.SimilarityThreshold

	var records core.RecordStore
	var batches core.BatchStore
	if opts.apply {
		if cfg.DatabaseURL == "" {
			return withCode(exitUsage, fmt.Errorf("--apply needs a database; set database.url in importctl.yaml or IMPORTCTL_DATABASE_URL"))
		}
		pool, err := store.Connect(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			return withCode(exitDB, err)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		records, batches = pg, pg
	} else {
		// Dry-run executes the full pipeline against an in-memory store.
		// When a database is configured its vocabulary is copied in so
		// mapping decisions resolve the same way they would on apply.
		mem := store.NewMemory()
		if cfg.DatabaseURL != "" {
			if err := seedVocabulary(ctx, cfg.DatabaseURL, mem, opts.org); err != nil {
				fmt.Fprintln(os.Stderr, "warning: could not load vocabulary for dry-run:", err)
			}
		}
		records, batches = mem, mem
	}

	service := core.NewService(records, batches, cliLogger(), core.Options{})

	sess, err := service.CreateSession(ctx, opts.org)
	if err != nil {
		return withCode(exitDB, err)
	}

	var fileNames []string
	var parseIssues []core.ValidationIssue
	for _, path := range paths {
		name := filepath.Base(path)
		f, err := os.Open(path)
		if err != nil {
			return withCode(exitValidation, fmt.Errorf("%s: %w", name, err))
		}
		_, issues, err := service.AddFile(ctx, sess.ID, name, f)
		f.Close()
		if err != nil {
			_ = writeJSONLine(map[string]any{
				"status": "file_rejected",
				"file":   name,
				"issues": issues,
			})
			return withCode(exitValidation, fmt.Errorf("%s: %w", name, err))
		}
		fileNames = append(fileNames, name)
		parseIssues = append(parseIssues, issues...)
	}

	issues, err := service.Validate(ctx, sess.ID)
	if err != nil {
		return withCode(exitDB, err)
	}
	errsN, warnsN := core.CountBySeverity(issues)
	if errsN > 0 {
		_ = writeJSONLine(map[string]any{
			"status":   "validation_failed",
			"errors":   errsN,
			"warnings": warnsN,
			"issues":   issues,
		})
		return withCode(exitValidation, fmt.Errorf("validation failed: %d errors", errsN))
	}

	values, _, err := service.CollectMappings(ctx, sess.ID)
	if err != nil {
		return withCode(exitDB, err)
	}

	if err := service.SetMappings(ctx, sess.ID, decisions, policy, opts.defaultValue); err != nil {
		return withCode(exitValidation, err)
	}

	batch, err := service.Execute(ctx, sess.ID)
	if err != nil {
		if batch.ID != uuid.Nil {
			_ = writeJSONLine(map[string]any{
				"status":   "failed",
				"batch_id": batch.ID.String(),
				"error":    err.Error(),
			})
		}
		switch {
		case isClientError(err):
			return withCode(exitValidation, err)
		default:
			return withCode(exitDB, err)
		}
	}

	byType, err := typeBreakdown(ctx, service, opts.org, batch.ID)
	if err != nil {
		return withCode(exitDB, err)
	}

	status := "dry_run"
	manifestPath := ""
	if opts.apply {
		status = "applied"
		manifestPath, err = writeImportManifest(opts, batch, fileNames, byType)
		if err != nil {
			return withCode(exitDB, fmt.Errorf("write manifest: %w", err))
		}
	}

	return printImportSummary(importSummaryInput{
		status:       status,
		opts:         opts,
		batch:        batch,
		files:        fileNames,
		byType:       byType,
		parseIssues:  parseIssues,
		warnings:     warnsN,
		unmapped:     countUnmapped(values, decisions),
		manifestPath: manifestPath,
	})
}

// isClientError reports whether an execution error is the caller's doing
// rather than infrastructure.
func isClientError(err error) bool {
	for _, target := range []error{
		core.ErrValidationFailed,
		core.ErrUnresolvedValues,
		core.ErrInvalidState,
		core.ErrImportBusy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// parsePolicy translates the flag spelling to the pipeline's policy names.
func parsePolicy(v string) (core.UnmappedPolicy, error) {
	switch strings.TrimSpace(v) {
	case "", "skip":
		return core.PolicySkip, nil
	case "original", "use-original":
		return core.PolicyUseOriginal, nil
	case "default", "use-default":
		return core.PolicyUseDefault, nil
	}
	return "", fmt.Errorf("unsupported --unmapped: %s", v)
}

// readMappingsFile parses a JSON array of mapping decisions.
func readMappingsFile(path string) ([]core.TypeMapping, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var decisions []core.TypeMapping
	if err := json.Unmarshal(b, &decisions); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return decisions, nil
}

// listImportFiles returns the delimited files in dir, sorted by name.
func listImportFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".csv", ".tsv", ".txt":
			paths = append(paths, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// seedVocabulary copies the organization's canonical values from the
// database into the dry-run store.
func seedVocabulary(ctx context.Context, dsn string, mem core.RecordStore, org uuid.UUID) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := store.Connect(connectCtx, dsn, store.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	pg := store.NewPostgres(pool)

	seen := make(map[string]bool)
	for _, def := range schema.All() {
		for _, col := range def.CategoryColumns() {
			if seen[col.Category] {
				continue
			}
			seen[col.Category] = true

			values, err := pg.ListCanonicalValues(ctx, org, col.Category)
			if err != nil {
				return err
			}
			for _, cv := range values {
				if _, err := mem.CreateCanonicalValue(ctx, org, cv.Category, cv.Value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// countUnmapped counts distinct values no decision covers. Those fall
// through to the unmapped policy at execution time.
func countUnmapped(values []core.CategoryValue, decisions []core.TypeMapping) int {
	covered := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		covered[d.Category+"\x00"+strings.ToLower(strings.TrimSpace(d.External))] = true
	}

	n := 0
	for _, v := range values {
		if !covered[v.Category+"\x00"+strings.ToLower(strings.TrimSpace(v.Value))] {
			n++
		}
	}
	return n
}

type typeOutcome struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// typeBreakdown groups a batch's record outcomes by entity type.
func typeBreakdown(ctx context.Context, service *core.Service, org, batchID uuid.UUID) (map[string]typeOutcome, error) {
	records, err := service.ListRecords(ctx, org, batchID, "")
	if err != nil {
		return nil, err
	}

	out := make(map[string]typeOutcome)
	for _, r := range records {
		o := out[string(r.Type)]
		switch r.Status {
		case core.RecordImported:
			o.Imported++
		case core.RecordFailed:
			o.Failed++
		}
		out[string(r.Type)] = o
	}
	return out, nil
}

type importManifestV1 struct {
	Version    int                    `json:"version"`
	BatchID    uuid.UUID              `json:"batch_id"`
	OrgID      uuid.UUID              `json:"organization_id"`
	Source     string                 `json:"source,omitempty"`
	Status     core.BatchStatus       `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Input      struct {
		Dir   string   `json:"dir"`
		Files []string `json:"files"`
	} `json:"input"`
	Counts struct {
		Total    int `json:"total"`
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	} `json:"counts"`
	ByType map[string]typeOutcome `json:"by_type"`
}

func writeImportManifest(opts importOptions, batch core.ImportBatch, files []string, byType map[string]typeOutcome) (string, error) {
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return "", err
	}

	manifest := importManifestV1{
		Version:    1,
		BatchID:    batch.ID,
		OrgID:      batch.Org,
		Source:     opts.source,
		Status:     batch.Status,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		ByType:     byType,
	}
	manifest.Input.Dir = opts.inputDir
	manifest.Input.Files = files
	manifest.Counts.Total = batch.TotalRecords
	manifest.Counts.Imported = batch.ImportedCount
	manifest.Counts.Failed = batch.FailedCount

	ts := time.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("import_manifest_%s_%s.json", ts, batch.ID.String())
	path := filepath.Join(opts.outputDir, name)

	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type importSummary struct {
	Status   string   `json:"status"`
	BatchID  string   `json:"batch_id"`
	OrgID    string   `json:"organization_id"`
	Source   string   `json:"source,omitempty"`
	Apply    bool     `json:"apply"`
	InputDir string   `json:"input_dir"`
	Files    []string `json:"files"`
	Counts   struct {
		Total    int `json:"total"`
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	} `json:"counts"`
	ByType         map[string]typeOutcome `json:"by_type,omitempty"`
	Warnings       int                    `json:"warnings,omitempty"`
	UnmappedValues int                    `json:"unmapped_values,omitempty"`
	ParseIssues    []core.ValidationIssue `json:"parse_issues,omitempty"`
	Manifest       string                 `json:"manifest,omitempty"`
}

type importSummaryInput struct {
	status       string
	opts         importOptions
	batch        core.ImportBatch
	files        []string
	byType       map[string]typeOutcome
	parseIssues  []core.ValidationIssue
	warnings     int
	unmapped     int
	manifestPath string
}

func printImportSummary(in importSummaryInput) error {
	var s importSummary
	s.Status = in.status
	s.BatchID = in.batch.ID.String()
	s.OrgID = in.batch.Org.String()
	s.Source = in.opts.source
	s.Apply = in.opts.apply
	s.InputDir = in.opts.inputDir
	s.Files = in.files
	s.Counts.Total = in.batch.TotalRecords
	s.Counts.Imported = in.batch.ImportedCount
	s.Counts.Failed = in.batch.FailedCount
	s.ByType = in.byType
	s.Warnings = in.warnings
	s.UnmappedValues = in.unmapped
	s.ParseIssues = in.parseIssues
	s.Manifest = in.manifestPath
	return writeJSONLine(s)
}
