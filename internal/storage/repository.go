package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"merchant-status-alerts/internal/status"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCheckSQL = `INSERT INTO product_status_checks (
        checked_at,
        country,
        reporting_context,
        totals,
        delta_disapproved,
        alert_sent,
        top_issues
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	latestCheckBeforeSQL = `SELECT
        id,
        checked_at,
        country,
        reporting_context,
        totals,
        delta_disapproved,
        alert_sent,
        top_issues,
        created_at
    FROM product_status_checks
    WHERE country = $1
      AND reporting_context = $2
      AND checked_at < $3
    ORDER BY checked_at DESC
    LIMIT 1;`

	listRecentChecksSQL = `SELECT
        id,
        checked_at,
        country,
        reporting_context,
        totals,
        delta_disapproved,
        alert_sent,
        top_issues,
        created_at
    FROM product_status_checks
    WHERE country = $1
      AND reporting_context = $2
    ORDER BY checked_at DESC
    LIMIT $3;`

	listChecksBetweenSQL = `SELECT
        id,
        checked_at,
        country,
        reporting_context,
        totals,
        delta_disapproved,
        alert_sent,
        top_issues,
        created_at
    FROM product_status_checks
    WHERE country = $1
      AND reporting_context = $2
      AND checked_at >= $3
      AND checked_at < $4
    ORDER BY checked_at;`

	listAlertedChecksSQL = `SELECT
        id,
        checked_at,
        country,
        reporting_context,
        totals,
        delta_disapproved,
        alert_sent,
        top_issues,
        created_at
    FROM product_status_checks
    WHERE country = $1
      AND reporting_context = $2
      AND alert_sent
    ORDER BY checked_at DESC
    LIMIT $3;`

	countChecksSQL = `SELECT COUNT(*) FROM product_status_checks;`

	insertEmailAlertSQL = `INSERT INTO email_alerts (
        mail_to,
        subject,
        body,
        sent_at
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id;`

	listRecentEmailAlertsSQL = `SELECT
        id,
        mail_to,
        subject,
        body,
        sent_at
    FROM email_alerts
    ORDER BY sent_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CheckStore defines operations on the append-only check history.
type CheckStore interface {
	AppendCheck(ctx context.Context, record CheckRecord) (CheckRecord, error)
	LatestCheckBefore(ctx context.Context, country, reportingContext string, ts time.Time) (*CheckRecord, error)
	ListRecentChecks(ctx context.Context, country, reportingContext string, limit int) ([]CheckRecord, error)
	ListChecksBetween(ctx context.Context, country, reportingContext string, from, to time.Time) ([]CheckRecord, error)
	ListAlertedChecks(ctx context.Context, country, reportingContext string, limit int) ([]CheckRecord, error)
	CountChecks(ctx context.Context) (int64, error)
}

// EmailAlertStore defines operations for the email alert audit trail.
type EmailAlertStore interface {
	InsertEmailAlert(ctx context.Context, record EmailAlertRecord) (EmailAlertRecord, error)
	ListRecentEmailAlerts(ctx context.Context, limit int) ([]EmailAlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// LockKey derives the advisory lock key for a monitored slice. Cycles for
// distinct keys may run concurrently; cycles for the same key must not.
func LockKey(country, reportingContext string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(country))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(reportingContext))
	return int64(h.Sum64())
}

// Store aggregates access to check history and email alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendCheck appends one check record to the history.
func (s *Store) AppendCheck(ctx context.Context, record CheckRecord) (CheckRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return CheckRecord{}, err
	}

	totals, err := json.Marshal(record.Totals)
	if err != nil {
		return CheckRecord{}, fmt.Errorf("encode totals: %w", err)
	}
	issues := record.TopIssues
	if issues == nil {
		issues = []status.Issue{}
	}
	topIssues, err := json.Marshal(issues)
	if err != nil {
		return CheckRecord{}, fmt.Errorf("encode top issues: %w", err)
	}

	row := pool.QueryRow(ctx, insertCheckSQL,
		record.CheckedAt,
		record.Country,
		record.ReportingContext,
		totals,
		record.DeltaDisapproved,
		record.AlertSent,
		topIssues,
	)
	if err := row.Scan(&record.ID, &record.CreatedAt); err != nil {
		return CheckRecord{}, fmt.Errorf("append check: %w", err)
	}
	return record, nil
}

// LatestCheckBefore returns the most recent check strictly older than ts for
// the given key, or nil when no such check exists.
func (s *Store) LatestCheckBefore(ctx context.Context, country, reportingContext string, ts time.Time) (*CheckRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestCheckBeforeSQL, country, reportingContext, ts)
	if queryErr != nil {
		return nil, fmt.Errorf("latest check before: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}
	record, scanErr := scanCheckRecord(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &record, nil
}

// ListRecentChecks lists the most recent checks ordered by descending capture time.
func (s *Store) ListRecentChecks(ctx context.Context, country, reportingContext string, limit int) ([]CheckRecord, error) {
	return s.listChecks(ctx, listRecentChecksSQL, country, reportingContext, limit)
}

// ListAlertedChecks lists recent checks that sent an alert.
func (s *Store) ListAlertedChecks(ctx context.Context, country, reportingContext string, limit int) ([]CheckRecord, error) {
	return s.listChecks(ctx, listAlertedChecksSQL, country, reportingContext, limit)
}

func (s *Store) listChecks(ctx context.Context, query, country, reportingContext string, limit int) ([]CheckRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, country, reportingContext, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list checks: %w", queryErr)
	}
	defer rows.Close()

	records := make([]CheckRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanCheckRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListChecksBetween lists checks within a time window, oldest first.
func (s *Store) ListChecksBetween(ctx context.Context, country, reportingContext string, from, to time.Time) ([]CheckRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listChecksBetweenSQL, country, reportingContext, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list checks between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]CheckRecord, 0)
	for rows.Next() {
		record, scanErr := scanCheckRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountChecks counts stored check records.
func (s *Store) CountChecks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countChecksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count checks: %w", scanErr)
	}
	return count, nil
}

// InsertEmailAlert persists the audit record for a sent alert email.
func (s *Store) InsertEmailAlert(ctx context.Context, record EmailAlertRecord) (EmailAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return EmailAlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertEmailAlertSQL,
		record.To,
		record.Subject,
		record.Body,
		record.SentAt,
	)
	if scanErr := row.Scan(&record.ID); scanErr != nil {
		return EmailAlertRecord{}, fmt.Errorf("insert email alert: %w", scanErr)
	}
	return record, nil
}

// ListRecentEmailAlerts lists most recent email alerts.
func (s *Store) ListRecentEmailAlerts(ctx context.Context, limit int) ([]EmailAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEmailAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list email alerts: %w", queryErr)
	}
	defer rows.Close()

	records := make([]EmailAlertRecord, 0, limit)
	for rows.Next() {
		var rec EmailAlertRecord
		if err := rows.Scan(&rec.ID, &rec.To, &rec.Subject, &rec.Body, &rec.SentAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanCheckRecord(rows pgx.Rows) (CheckRecord, error) {
	var (
		record    CheckRecord
		totalsRaw []byte
		issuesRaw []byte
	)

	if err := rows.Scan(
		&record.ID,
		&record.CheckedAt,
		&record.Country,
		&record.ReportingContext,
		&totalsRaw,
		&record.DeltaDisapproved,
		&record.AlertSent,
		&issuesRaw,
		&record.CreatedAt,
	); err != nil {
		return CheckRecord{}, err
	}

	if err := json.Unmarshal(totalsRaw, &record.Totals); err != nil {
		return CheckRecord{}, fmt.Errorf("decode totals: %w", err)
	}
	if err := json.Unmarshal(issuesRaw, &record.TopIssues); err != nil {
		return CheckRecord{}, fmt.Errorf("decode top issues: %w", err)
	}

	return record, nil
}
