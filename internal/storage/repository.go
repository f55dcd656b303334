package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAssessmentSQL = `INSERT INTO risk_assessments (
        id,
        subject_id,
        score,
        label,
        reasons,
        critical,
        factors,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING created_at;`

	listAssessmentsBetweenSQL = `SELECT
        id,
        subject_id,
        score,
        label,
        reasons,
        critical,
        factors,
        fetched_at,
        created_at
    FROM risk_assessments
    WHERE subject_id = $1
      AND fetched_at >= $2
      AND fetched_at < $3
    ORDER BY fetched_at;`

	listRecentAssessmentsSQL = `SELECT
        id,
        subject_id,
        score,
        label,
        reasons,
        critical,
        factors,
        fetched_at,
        created_at
    FROM risk_assessments
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAssessmentsBeforeSQL = `DELETE FROM risk_assessments WHERE created_at < $1;`

	insertGateDecisionSQL = `INSERT INTO gate_decisions (
        id,
        chain,
        subject_id,
        wallet,
        allowed,
        decided_by,
        code,
        message,
        status,
        trail,
        assessment_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING created_at;`

	listRecentGateDecisionsSQL = `SELECT
        id,
        chain,
        subject_id,
        wallet,
        allowed,
        decided_by,
        code,
        message,
        status,
        trail,
        assessment_id,
        created_at
    FROM gate_decisions
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteGateDecisionsBeforeSQL = `DELETE FROM gate_decisions WHERE created_at < $1;`

	pingSQL = `SELECT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AssessmentStore defines persistence for risk assessments.
type AssessmentStore interface {
	InsertAssessment(ctx context.Context, rec AssessmentRecord) (AssessmentRecord, error)
	ListAssessmentsBetween(ctx context.Context, subjectID string, from, to time.Time) ([]AssessmentRecord, error)
	ListRecentAssessments(ctx context.Context, limit int) ([]AssessmentRecord, error)
	DeleteAssessmentsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// GateDecisionStore defines persistence for gate outcomes.
type GateDecisionStore interface {
	InsertGateDecision(ctx context.Context, rec GateDecisionRecord) (GateDecisionRecord, error)
	ListRecentGateDecisions(ctx context.Context, limit int) ([]GateDecisionRecord, error)
	DeleteGateDecisionsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to assessments and gate decisions.
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

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var one int
	if err := pool.QueryRow(ctx, pingSQL).Scan(&one); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
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

// InsertAssessment persists a scoring pass, assigning an id when missing.
func (s *Store) InsertAssessment(ctx context.Context, rec AssessmentRecord) (AssessmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AssessmentRecord{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if scanErr := pool.QueryRow(ctx, insertAssessmentSQL,
		rec.ID.String(),
		rec.SubjectID,
		rec.Score,
		rec.Label,
		nonNil(rec.Reasons),
		nonNil(rec.Critical),
		jsonOrDefault(rec.Factors, "{}"),
		rec.FetchedAt,
	).Scan(&rec.CreatedAt); scanErr != nil {
		return AssessmentRecord{}, fmt.Errorf("insert assessment: %w", scanErr)
	}
	return rec, nil
}

// ListAssessmentsBetween lists a subject's assessments within [from, to).
func (s *Store) ListAssessmentsBetween(ctx context.Context, subjectID string, from, to time.Time) ([]AssessmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAssessmentsBetweenSQL, subjectID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list assessments between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]AssessmentRecord, 0)
	for rows.Next() {
		rec, scanErr := scanAssessment(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentAssessments lists the newest assessments first.
func (s *Store) ListRecentAssessments(ctx context.Context, limit int) ([]AssessmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAssessmentsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent assessments: %w", queryErr)
	}
	defer rows.Close()

	records := make([]AssessmentRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAssessment(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteAssessmentsBefore prunes old assessments and reports how many were removed.
func (s *Store) DeleteAssessmentsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAssessmentsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete assessments before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertGateDecision persists a gate outcome.
func (s *Store) InsertGateDecision(ctx context.Context, rec GateDecisionRecord) (GateDecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return GateDecisionRecord{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var assessmentID any
	if rec.AssessmentID != nil {
		assessmentID = rec.AssessmentID.String()
	}

	if scanErr := pool.QueryRow(ctx, insertGateDecisionSQL,
		rec.ID.String(),
		rec.Chain,
		rec.SubjectID,
		rec.Wallet,
		rec.Allowed,
		rec.DecidedBy,
		rec.Code,
		rec.Message,
		rec.Status,
		jsonOrDefault(rec.Trail, "[]"),
		assessmentID,
	).Scan(&rec.CreatedAt); scanErr != nil {
		return GateDecisionRecord{}, fmt.Errorf("insert gate decision: %w", scanErr)
	}
	return rec, nil
}

// ListRecentGateDecisions lists the newest gate outcomes first.
func (s *Store) ListRecentGateDecisions(ctx context.Context, limit int) ([]GateDecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentGateDecisionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent gate decisions: %w", queryErr)
	}
	defer rows.Close()

	records := make([]GateDecisionRecord, 0, limit)
	for rows.Next() {
		var (
			rec          GateDecisionRecord
			id           string
			assessmentID *string
			trail        json.RawMessage
		)
		if err := rows.Scan(
			&id,
			&rec.Chain,
			&rec.SubjectID,
			&rec.Wallet,
			&rec.Allowed,
			&rec.DecidedBy,
			&rec.Code,
			&rec.Message,
			&rec.Status,
			&trail,
			&assessmentID,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse gate decision id: %w", err)
		}
		if assessmentID != nil {
			parsed, parseErr := uuid.Parse(*assessmentID)
			if parseErr != nil {
				return nil, fmt.Errorf("parse assessment id: %w", parseErr)
			}
			rec.AssessmentID = &parsed
		}
		rec.Trail = trail
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteGateDecisionsBefore prunes old gate outcomes.
func (s *Store) DeleteGateDecisionsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteGateDecisionsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete gate decisions before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanAssessment(rows pgx.Rows) (AssessmentRecord, error) {
	var (
		rec AssessmentRecord
		id  string
	)
	if err := rows.Scan(
		&id,
		&rec.SubjectID,
		&rec.Score,
		&rec.Label,
		&rec.Reasons,
		&rec.Critical,
		&rec.Factors,
		&rec.FetchedAt,
		&rec.CreatedAt,
	); err != nil {
		return AssessmentRecord{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return AssessmentRecord{}, fmt.Errorf("parse assessment id: %w", err)
	}
	rec.ID = parsed
	return rec, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func jsonOrDefault(raw json.RawMessage, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return []byte(raw)
}

var (
	_ AssessmentStore   = (*Store)(nil)
	_ GateDecisionStore = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
