// Package report renders the end-of-run summary workbook reviewers get
// after a dedup job finishes.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/store/model"
)

// Sink receives the final state of a job. A sink failure is reported to
// the caller but is not fatal for the job.
type Sink interface {
	WriteRunReport(ctx context.Context, job model.Job, pairs []model.DuplicatePair) (string, error)
}

// XLSXSink writes one workbook per job into OutputDir.
type XLSXSink struct {
	outputDir string
}

var _ Sink = (*XLSXSink)(nil)

func NewXLSXSink(outputDir string) *XLSXSink {
	return &XLSXSink{outputDir: outputDir}
}

func (s *XLSXSink) WriteRunReport(ctx context.Context, job model.Job, pairs []model.DuplicatePair) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			zap.S().Named("report").Warnw("failed to close workbook", "error", err)
		}
	}()

	summary := "Summary"
	if err := f.SetSheetName(f.GetSheetName(0), summary); err != nil {
		return "", err
	}

	rows := [][]interface{}{
		{"Job ID", job.ID.String()},
		{"Status", string(job.Status)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Finished", job.UpdatedAt.Format(time.RFC3339)},
		{"Contacts processed", job.Metrics.TotalContacts},
		{"Accounts", job.Metrics.TotalAccounts},
		{"Emails validated", job.Metrics.EmailsValidated},
		{"Duplicates found", job.Metrics.DuplicatesFound},
		{"Updates applied", job.Metrics.UpdatesApplied},
		{"Update errors", len(job.Metrics.Errors)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return "", err
		}
	}

	if len(pairs) > 0 {
		if err := s.writePairsSheet(f, pairs); err != nil {
			return "", err
		}
	}
	if len(job.Metrics.Errors) > 0 {
		if err := s.writeErrorsSheet(f, job.Metrics.Errors); err != nil {
			return "", err
		}
	}

	path := filepath.Join(s.outputDir, fmt.Sprintf("dedup-run-%s.xlsx", job.ID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

func (s *XLSXSink) writePairsSheet(f *excelize.File, pairs []model.DuplicatePair) error {
	sheet := "Duplicates"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []interface{}{
		"Pair ID", "Account", "Confidence", "Canonical Name",
		"Contact 1", "Email 1", "Contact 2", "Email 2", "Reasoning",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, p := range pairs {
		row := []interface{}{
			p.PairID, p.AccountName, p.Confidence, p.CanonicalName,
			p.Contact1.Name, p.Contact1.Email, p.Contact2.Name, p.Contact2.Email, p.Reasoning,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *XLSXSink) writeErrorsSheet(f *excelize.File, errs []model.ItemError) error {
	sheet := "Errors"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []interface{}{"Contact ID", "Error"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, e := range errs {
		row := []interface{}{e.ContactID, e.Message}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
