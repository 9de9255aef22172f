package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/events"
	"github.com/worq1337/parcer-sub000/internal/extract"
	"github.com/worq1337/parcer-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Ingest a bank notification",
		Long: `Extract, normalize, deduplicate, and store the transaction described by a
bank notification. Text is taken from the arguments, or from stdin when no
arguments are given.

Examples:
  # Uzum Bank SMS, matched by the template fast path
  parcer ingest 'Spisanie, karta *1234: 50000.00 UZS, Korzinka. Dostupno: 1250000.00 UZS'

  # Free-form text, extracted by the language model
  echo 'оплатил 30к в макро вчера вечером' | parcer ingest --source telegram`,
		RunE: runIngest,
	}

	cmd.Flags().String("source", "sms", "ingestion channel (sms, telegram, manual, photo)")
	cmd.Flags().String("added-via", "cli", "how the record was submitted")
	cmd.Flags().String("trace-id", "", "external trace identifier to stamp into metadata")

	cmd.AddCommand(ingestImageCmd())
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to ingest")
	}

	source, _ := cmd.Flags().GetString("source")
	addedVia, _ := cmd.Flags().GetString("added-via")
	traceID, _ := cmd.Flags().GetString("trace-id")

	return runExtraction(cmd, extract.Input{
		Text:     text,
		Source:   model.NormalizeSource(source),
		AddedVia: addedVia,
		TraceID:  traceID,
	}, false)
}

func ingestImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image <file>",
		Short: "Ingest a receipt photo",
		Long: `Run OCR on a receipt photo and ingest the recognized transaction.
Low-confidence results are reported as drafts and not stored unless
--save-draft is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngestImage,
	}

	cmd.Flags().String("added-via", "cli", "how the record was submitted")
	cmd.Flags().String("trace-id", "", "external trace identifier to stamp into metadata")
	cmd.Flags().Bool("save-draft", false, "store low-confidence results instead of discarding them")

	return cmd
}

func runIngestImage(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(args[0]))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	addedVia, _ := cmd.Flags().GetString("added-via")
	traceID, _ := cmd.Flags().GetString("trace-id")
	saveDraft, _ := cmd.Flags().GetBool("save-draft")

	return runExtraction(cmd, extract.Input{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MimeType:    mimeType,
		Source:      model.SourcePhoto,
		AddedVia:    addedVia,
		TraceID:     traceID,
	}, saveDraft)
}

func runExtraction(cmd *cobra.Command, in extract.Input, saveDraft bool) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	out, err := p.dispatcher.Extract(ctx, in)
	if err != nil {
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			fmt.Println(common.UserMessage(err))
		}
		return fmt.Errorf("extraction failed: %w", err)
	}

	if out.Confidence > 0 {
		slog.Info("Recognition finished", "tier", out.Tier, "confidence", out.Confidence)
	}

	if out.Status == extract.StatusDraft && !saveDraft {
		fmt.Println("⚠️  Low recognition confidence; the result below was NOT stored.")
		fmt.Println("Re-run with --save-draft to store it anyway, or send a clearer photo.")
		printRecords(out.Records, nil)
		return nil
	}

	result, err := p.coordinator.IngestAndPersist(ctx, out.Records, uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}

	// A stored draft was confirmed by the operator, not by confidence.
	if out.Status == extract.StatusDraft {
		for _, rec := range result.Created {
			p.notifier.Publish(events.Notification{
				Record: rec,
				Kind:   events.NotifyRecordConfirmed,
				Source: rec.Source,
			})
		}
	}

	if result.AllDuplicates {
		fmt.Println("Already recorded: every extracted operation matched an existing record.")
	}
	printRecords(result.Created, result.Duplicates)
	return nil
}

func printRecords(created, duplicates []*model.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "STATUS\tDATE\tTYPE\tAMOUNT\tOPERATOR\tCARD\tID")
	for _, rec := range created {
		printRecordRow(w, "created", rec)
	}
	for _, rec := range duplicates {
		printRecordRow(w, "duplicate", rec)
	}
}

func printRecordRow(w io.Writer, status string, rec *model.Record) {
	card := rec.CardLast4
	if card == "" {
		card = "-"
	}
	fmt.Fprintf(w, "%s\t%s %s\t%s\t%.2f %s\t%s\t%s\t%s\n",
		status, rec.DateDisplay, rec.TimeDisplay, rec.Type,
		rec.Amount, rec.Currency, rec.Operator, card, rec.ID)
}
