package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// ErrVersionConflict is returned when a request changed between read and
// write. The loser of such a race no longer sits at the stage it acted on.
var ErrVersionConflict = fmt.Errorf("%w: request was modified concurrently", workflow.ErrStageMismatch)

const requestColumns = `
	id, project_id, project_number, project_title, project_category,
	requestor_name, requestor_email, amount, purpose, justification, invoice_number,
	status, current_stage,
	admin_forwarded_at, reviewer1_approved_at, reviewer2_approved_at, final_approved_at,
	rejected_at, rejection_remarks, created_at, version`

// RequestStore implements port.RequestStore on SQLite
type RequestStore struct {
	db     *DB
	logger *zap.Logger
}

var _ port.RequestStore = (*RequestStore)(nil)

// NewRequestStore creates a new SQLite request store
func NewRequestStore(db *DB, logger *zap.Logger) *RequestStore {
	return &RequestStore{
		db:     db,
		logger: logger,
	}
}

// Insert stores a new request together with its initial logs
func (s *RequestStore) Insert(ctx context.Context, req *entity.BudgetRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("request with an ID is required")
	}

	return s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		query := `
			INSERT INTO budget_requests (` + requestColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := s.db.conn(txCtx).ExecContext(txCtx, query,
			req.ID,
			req.Project.ID,
			req.Project.Number,
			req.Project.Title,
			string(req.Project.Category),
			req.Requestor.Name,
			req.Requestor.Email,
			req.Amount,
			req.Purpose,
			req.Justification,
			req.InvoiceNumber,
			string(req.Status),
			string(req.CurrentStage),
			formatTime(req.AdminForwardedAt),
			formatTime(req.Reviewer1ApprovedAt),
			formatTime(req.Reviewer2ApprovedAt),
			formatTime(req.FinalApprovedAt),
			formatTime(req.RejectedAt),
			req.RejectionRemarks,
			req.CreatedAt.UTC().Format(time.RFC3339Nano),
			req.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", workflow.ErrDuplicateID, req.ID)
			}
			s.logger.Error("Failed to insert budget request", zap.String("request_id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to insert budget request: %w", err)
		}

		return s.insertLogs(txCtx, req.ID, 0, req.ApprovalLogs)
	})
}

// FindByID returns the request, or nil if it does not exist
func (s *RequestStore) FindByID(ctx context.Context, id string) (*entity.BudgetRequest, error) {
	requests, err := s.query(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return requests[0], nil
}

// FindByStage returns pending requests waiting at the stage
func (s *RequestStore) FindByStage(ctx context.Context, stage workflow.Stage) ([]*entity.BudgetRequest, error) {
	return s.query(ctx, "WHERE status = ? AND current_stage = ?", string(entity.StatusPending), string(stage))
}

// FindByRequestor returns requests submitted by the email, compared case-insensitively
func (s *RequestStore) FindByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error) {
	return s.query(ctx, "WHERE requestor_email = ? COLLATE NOCASE", strings.TrimSpace(email))
}

// All returns every request in insertion order
func (s *RequestStore) All(ctx context.Context) ([]*entity.BudgetRequest, error) {
	return s.query(ctx, "")
}

// Update loads the request inside a transaction, applies fn and writes the
// result back guarded by the version read at the start.
func (s *RequestStore) Update(ctx context.Context, id string, fn port.MutateFunc) (*entity.BudgetRequest, error) {
	var updated *entity.BudgetRequest

	err := s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		found, err := s.query(txCtx, "WHERE id = ?", id)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
		}
		current := found[0]

		working := current.Clone()
		if err := fn(working); err != nil {
			return err
		}
		if working.ID != id {
			return fmt.Errorf("update of %s attempted to change the request ID", id)
		}

		// Logs are append-only
		if len(working.ApprovalLogs) < len(current.ApprovalLogs) {
			return fmt.Errorf("update of %s attempted to remove approval logs", id)
		}
		for i := range current.ApprovalLogs {
			if !sameLog(current.ApprovalLogs[i], working.ApprovalLogs[i]) {
				return fmt.Errorf("update of %s attempted to rewrite approval log %d", id, i)
			}
		}

		query := `
			UPDATE budget_requests SET
				status = ?, current_stage = ?,
				admin_forwarded_at = ?, reviewer1_approved_at = ?, reviewer2_approved_at = ?, final_approved_at = ?,
				rejected_at = ?, rejection_remarks = ?, version = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND version = ?
		`
		result, err := s.db.conn(txCtx).ExecContext(txCtx, query,
			string(working.Status),
			string(working.CurrentStage),
			formatTime(working.AdminForwardedAt),
			formatTime(working.Reviewer1ApprovedAt),
			formatTime(working.Reviewer2ApprovedAt),
			formatTime(working.FinalApprovedAt),
			formatTime(working.RejectedAt),
			working.RejectionRemarks,
			working.Version,
			id,
			current.Version,
		)
		if err != nil {
			s.logger.Error("Failed to update budget request", zap.String("request_id", id), zap.Error(err))
			return fmt.Errorf("failed to update budget request: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrVersionConflict, id)
		}

		if err := s.insertLogs(txCtx, id, len(current.ApprovalLogs), working.ApprovalLogs[len(current.ApprovalLogs):]); err != nil {
			return err
		}

		updated = working
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *RequestStore) insertLogs(ctx context.Context, requestID string, offset int, logs []entity.ApprovalLog) error {
	query := `
		INSERT INTO approval_logs (request_id, seq, role, action, actor, remarks, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i, l := range logs {
		_, err := s.db.conn(ctx).ExecContext(ctx, query,
			requestID,
			offset+i,
			string(l.Role),
			string(l.Action),
			l.Actor,
			l.Remarks,
			l.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			s.logger.Error("Failed to insert approval log", zap.String("request_id", requestID), zap.Error(err))
			return fmt.Errorf("failed to insert approval log: %w", err)
		}
	}
	return nil
}

// query loads requests matching the WHERE clause in insertion order, with logs
func (s *RequestStore) query(ctx context.Context, where string, args ...interface{}) ([]*entity.BudgetRequest, error) {
	query := "SELECT " + requestColumns + " FROM budget_requests " + where + " ORDER BY seq"

	rows, err := s.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query budget requests", zap.Error(err))
		return nil, fmt.Errorf("failed to query budget requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*entity.BudgetRequest, 0)
	byID := make(map[string]*entity.BudgetRequest)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
		byID[req.ID] = req
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate budget requests: %w", err)
	}
	if len(requests) == 0 {
		return requests, nil
	}

	if err := s.attachLogs(ctx, byID, where, args...); err != nil {
		return nil, err
	}
	return requests, nil
}

// attachLogs loads the logs of the requests selected by where. The request
// filter is repeated as a subquery so the bound variables stay those of where.
func (s *RequestStore) attachLogs(ctx context.Context, byID map[string]*entity.BudgetRequest, where string, args ...interface{}) error {
	query := `
		SELECT request_id, role, action, actor, remarks, logged_at
		FROM approval_logs
		WHERE request_id IN (SELECT id FROM budget_requests ` + where + `)
		ORDER BY request_id, seq
	`
	rows, err := s.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query approval logs", zap.Error(err))
		return fmt.Errorf("failed to query approval logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var requestID, role, action, actor, remarks, loggedAt string
		if err := rows.Scan(&requestID, &role, &action, &actor, &remarks, &loggedAt); err != nil {
			return fmt.Errorf("failed to scan approval log: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, loggedAt)
		if err != nil {
			return fmt.Errorf("invalid log timestamp %q: %w", loggedAt, err)
		}
		req, ok := byID[requestID]
		if !ok {
			// inserted after the request rows were read
			continue
		}
		req.ApprovalLogs = append(req.ApprovalLogs, entity.ApprovalLog{
			Role:      workflow.Role(role),
			Action:    workflow.Action(action),
			Timestamp: ts,
			Actor:     actor,
			Remarks:   remarks,
		})
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*entity.BudgetRequest, error) {
	var (
		req                                               entity.BudgetRequest
		category, status, stage, createdAt                string
		adminAt, reviewer1At, reviewer2At, finalAt, rejAt sql.NullString
	)

	err := row.Scan(
		&req.ID,
		&req.Project.ID,
		&req.Project.Number,
		&req.Project.Title,
		&category,
		&req.Requestor.Name,
		&req.Requestor.Email,
		&req.Amount,
		&req.Purpose,
		&req.Justification,
		&req.InvoiceNumber,
		&status,
		&stage,
		&adminAt,
		&reviewer1At,
		&reviewer2At,
		&finalAt,
		&rejAt,
		&req.RejectionRemarks,
		&createdAt,
		&req.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan budget request: %w", err)
	}

	req.Project.Category = entity.ProjectCategory(category)
	req.Status = entity.Status(status)
	req.CurrentStage = workflow.Stage(stage)

	if req.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}

	slots := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{adminAt, &req.AdminForwardedAt},
		{reviewer1At, &req.Reviewer1ApprovedAt},
		{reviewer2At, &req.Reviewer2ApprovedAt},
		{finalAt, &req.FinalApprovedAt},
		{rejAt, &req.RejectedAt},
	}
	for _, slot := range slots {
		if *slot.dst, err = parseTime(slot.src); err != nil {
			return nil, err
		}
	}

	return &req, nil
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func sameLog(a, b entity.ApprovalLog) bool {
	return a.Role == b.Role &&
		a.Action == b.Action &&
		a.Actor == b.Actor &&
		a.Remarks == b.Remarks &&
		a.Timestamp.Equal(b.Timestamp)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
