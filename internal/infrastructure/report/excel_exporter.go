package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

const (
	// DefaultRequestsSheet holds one row per request
	DefaultRequestsSheet = "Requests"
	// DefaultLogsSheet holds one row per approval log entry
	DefaultLogsSheet = "Approval Logs"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var requestHeaders = []interface{}{
	"Request ID", "Project Number", "Project Title", "Category",
	"Requestor", "Requestor Email", "Amount", "Purpose", "Invoice Number",
	"Status", "Stage", "Submitted At",
	"Admin Forwarded At", "Reviewer 1 Approved At", "Reviewer 2 Approved At", "Final Approved At",
	"Rejected At", "Rejection Remarks",
}

var logHeaders = []interface{}{
	"Request ID", "Seq", "Role", "Action", "Actor", "Remarks", "Timestamp",
}

// ValidateSheetNames checks the two sheet names of the workbook, with empty
// names standing for the defaults. Excel compares sheet names
// case-insensitively, so equal names would make both tables share one sheet.
func ValidateSheetNames(requestsSheet, logsSheet string) error {
	if requestsSheet == "" {
		requestsSheet = DefaultRequestsSheet
	}
	if logsSheet == "" {
		logsSheet = DefaultLogsSheet
	}
	for _, name := range []string{requestsSheet, logsSheet} {
		if utf8.RuneCountInString(name) > excelize.MaxSheetNameLength {
			return fmt.Errorf("sheet name %q exceeds %d characters", name, excelize.MaxSheetNameLength)
		}
		if strings.ContainsAny(name, `:\/?*[]`) {
			return fmt.Errorf("sheet name %q contains one of : \\ / ? * [ ]", name)
		}
	}
	if strings.EqualFold(requestsSheet, logsSheet) {
		return fmt.Errorf("requests and logs sheets must differ, both are %q", requestsSheet)
	}
	return nil
}

// ExcelExporter renders requests into an xlsx workbook
type ExcelExporter struct {
	requestsSheet string
	logsSheet     string
	logger        *zap.Logger
}

var _ port.ReportExporter = (*ExcelExporter)(nil)

// NewExcelExporter creates an exporter; empty sheet names fall back to defaults
func NewExcelExporter(requestsSheet, logsSheet string, logger *zap.Logger) *ExcelExporter {
	if requestsSheet == "" {
		requestsSheet = DefaultRequestsSheet
	}
	if logsSheet == "" {
		logsSheet = DefaultLogsSheet
	}
	return &ExcelExporter{
		requestsSheet: requestsSheet,
		logsSheet:     logsSheet,
		logger:        logger,
	}
}

// ContentType returns the MIME type of the produced workbook
func (e *ExcelExporter) ContentType() string {
	return xlsxContentType
}

// Export writes the workbook to w
func (e *ExcelExporter) Export(ctx context.Context, w io.Writer, requests []*entity.BudgetRequest) error {
	if err := ValidateSheetNames(e.requestsSheet, e.logsSheet); err != nil {
		return err
	}

	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName(file.GetSheetName(0), e.requestsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := file.NewSheet(e.logsSheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", e.logsSheet, err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.writeHeader(file, e.requestsSheet, requestHeaders, headerStyle); err != nil {
		return err
	}
	if err := e.writeHeader(file, e.logsSheet, logHeaders, headerStyle); err != nil {
		return err
	}

	logRow := 2
	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}

		row := i + 2
		if err := e.setRow(file, e.requestsSheet, row, requestRow(req)); err != nil {
			return err
		}

		for seq, l := range req.ApprovalLogs {
			values := []interface{}{
				req.ID, seq + 1, l.Role.Label(), string(l.Action), l.Actor, l.Remarks, formatTime(&l.Timestamp),
			}
			if err := e.setRow(file, e.logsSheet, logRow, values); err != nil {
				return err
			}
			logRow++
		}
	}

	_ = file.SetColWidth(e.requestsSheet, "A", "R", 20)
	_ = file.SetColWidth(e.logsSheet, "A", "G", 20)

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Request report exported",
		zap.Int("requests", len(requests)),
		zap.Int("log_entries", logRow-2))
	return nil
}

func (e *ExcelExporter) writeHeader(file *excelize.File, sheet string, headers []interface{}, style int) error {
	if err := e.setRow(file, sheet, 1, headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return fmt.Errorf("failed to resolve header range: %w", err)
	}
	if err := file.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header on %s: %w", sheet, err)
	}
	return nil
}

func (e *ExcelExporter) setRow(file *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to resolve row %d: %w", row, err)
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d on %s: %w", row, sheet, err)
	}
	return nil
}

func requestRow(req *entity.BudgetRequest) []interface{} {
	return []interface{}{
		req.ID,
		req.Project.Number,
		req.Project.Title,
		string(req.Project.Category),
		req.Requestor.Name,
		req.Requestor.Email,
		req.Amount.InexactFloat64(),
		req.Purpose,
		req.InvoiceNumber,
		string(req.Status),
		req.StageLabel(),
		formatTime(&req.CreatedAt),
		formatTime(req.StageTimestamp(workflow.StageAdmin)),
		formatTime(req.StageTimestamp(workflow.StageReviewer1)),
		formatTime(req.StageTimestamp(workflow.StageReviewer2)),
		formatTime(req.StageTimestamp(workflow.StageFinalAuthority)),
		formatTime(req.RejectedAt),
		req.RejectionRemarks,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
