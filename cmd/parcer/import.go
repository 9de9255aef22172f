package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/extract"
	"github.com/worq1337/parcer-sub000/internal/importer"
	"github.com/worq1337/parcer-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type statementParser interface {
	Parse(reader io.Reader) ([]model.Extraction, error)
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import transactions from statement files",
		Long: `Import transactions from OFX/QFX bank statements or JSON-lines exports.
Each file is ingested as one batch: every row passes through the same
normalization and duplicate detection as live notifications, so re-importing
a statement never creates second copies.

Examples:
  # Import a Quicken export
  parcer import ~/Downloads/statement_jan.qfx

  # Import every statement in a directory
  parcer import ~/Downloads/*.ofx

  # Re-ingest an exported JSON-lines dump
  parcer import backup.jsonl --format jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("format", "auto", "file format (auto, ofx, jsonl)")
	cmd.Flags().BoolP("dry-run", "d", false, "preview import without saving")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}

	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	ctx := cmd.Context()
	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	slog.Info("Importing statement files",
		"file_count", len(allFiles),
		"dry_run", dryRun)

	totalCreated := 0
	totalDuplicates := 0

	for _, filePath := range allFiles {
		created, duplicates, err := importFile(cmd, p, filePath, format, dryRun)
		if err != nil {
			slog.Error("Failed to import file",
				"file", filepath.Base(filePath),
				"error", err)
			continue
		}
		totalCreated += created
		totalDuplicates += duplicates
	}

	fmt.Printf("\nImport finished: %d new records, %d duplicates skipped.\n",
		totalCreated, totalDuplicates)
	if dryRun {
		fmt.Println("Dry run: nothing was saved.")
	}
	return nil
}

func importFile(cmd *cobra.Command, p *pipeline, filePath, format string, dryRun bool) (created, duplicates int, err error) {
	parser, err := parserFor(filePath, format)
	if err != nil {
		return 0, 0, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	extractions, err := parser.Parse(f)
	_ = f.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse: %w", err)
	}
	if len(extractions) == 0 {
		slog.Warn("No transactions found in file", "file", filepath.Base(filePath))
		return 0, 0, nil
	}

	ctx := cmd.Context()
	bar := newImportBar(len(extractions), filepath.Base(filePath))

	records := make([]*model.Record, 0, len(extractions))
	for _, ex := range extractions {
		rec, normErr := p.normalizer.Normalize(ctx, ex, extract.Options{
			AddedVia: "import",
			Source:   ex.Source,
			Metadata: map[string]any{"import_file": filepath.Base(filePath)},
		})
		if normErr != nil {
			return 0, 0, fmt.Errorf("failed to normalize row: %w", normErr)
		}
		records = append(records, rec)
		_ = bar.Add(1)
	}

	if dryRun {
		printRecords(records, nil)
		return len(records), 0, nil
	}

	result, err := p.coordinator.ImportBatch(ctx, records, uuid.NewString())
	if err != nil {
		return 0, 0, err
	}

	slog.Info("Processed file",
		"file", filepath.Base(filePath),
		"transactions_found", len(extractions),
		"added", len(result.Created),
		"duplicates", len(result.Duplicates))
	return len(result.Created), len(result.Duplicates), nil
}

func parserFor(filePath, format string) (statementParser, error) {
	if format == "auto" {
		switch strings.ToLower(filepath.Ext(filePath)) {
		case ".ofx", ".qfx":
			format = "ofx"
		case ".jsonl", ".ndjson", ".json":
			format = "jsonl"
		default:
			return nil, fmt.Errorf("cannot detect format of %s, use --format", filepath.Base(filePath))
		}
	}

	switch format {
	case "ofx":
		return importer.NewOFXParser(), nil
	case "jsonl":
		return importer.NewJSONLinesParser(), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

func newImportBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", description)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}
