package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Queue ---

func (s *PostgresStore) UpsertQueueEntry(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	now := time.Now().UTC()
	createdAt, updatedAt := entry.CreatedAt, entry.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue_entries (issue_id, title, error_type, culprit, fingerprint, score, priority, count, user_count, last_seen, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (issue_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   error_type = EXCLUDED.error_type,
		   culprit = EXCLUDED.culprit,
		   fingerprint = EXCLUDED.fingerprint,
		   score = EXCLUDED.score,
		   priority = EXCLUDED.priority,
		   count = EXCLUDED.count,
		   user_count = EXCLUDED.user_count,
		   last_seen = GREATEST(queue_entries.last_seen, EXCLUDED.last_seen),
		   updated_at = NOW()
		 RETURNING (xmax = 0)`,
		entry.IssueID, entry.Title, entry.ErrorType, entry.Culprit, entry.Fingerprint,
		entry.Score, entry.Priority, entry.Count, entry.UserCount, entry.LastSeen,
		entry.Status, createdAt, updatedAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert queue entry: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetQueueEntry(ctx context.Context, issueID string) (*models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT issue_id, title, error_type, culprit, fingerprint, score, priority, count, user_count, last_seen, status, analysis_id, created_at, updated_at
		 FROM queue_entries WHERE issue_id = $1`, issueID)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListQueue(ctx context.Context, filter QueueFilter) ([]*models.QueueEntry, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argIdx))
		args = append(args, filter.Priority)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM queue_entries WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT issue_id, title, error_type, culprit, fingerprint, score, priority, count, user_count, last_seen, status, analysis_id, created_at, updated_at
		 FROM queue_entries WHERE %s ORDER BY score DESC, last_seen DESC, issue_id ASC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (s *PostgresStore) UpdateQueueStatus(ctx context.Context, issueID string, status string, opts ...QueueUpdateOption) error {
	params := &queueUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE queue_entries SET status = $2, updated_at = NOW()`
	args := []any{issueID, status}
	argIdx := 3

	if params.AnalysisID != nil {
		query += fmt.Sprintf(", analysis_id = $%d", argIdx)
		args = append(args, *params.AnalysisID)
		argIdx++
	}

	query += " WHERE issue_id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RemoveQueueEntry(ctx context.Context, issueID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE issue_id = $1`, issueID)
	if err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Analyses ---

const analysisColumns = `id, issue_id, fingerprint, group_size, state, stage, result, error, pr_state, pr_number, pr_url, pr_branch, started_at, finished_at, created_at, updated_at`

func (s *PostgresStore) CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	resultJSON, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, issue_id, fingerprint, group_size, state, stage, result, error, pr_state, pr_number, pr_url, pr_branch, started_at, finished_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, NULLIF($10, 0), NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15, $16)`,
		rec.ID, rec.IssueID, rec.Fingerprint, rec.GroupSize, rec.State, rec.Stage,
		resultJSON, rec.Error, rec.PRState, rec.PRNumber, rec.PRURL, rec.PRBranch,
		rec.StartedAt, rec.FinishedAt, createdAt, updatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
	rec, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetAnalysisByPRNumber(ctx context.Context, prNumber int) (*models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE pr_number = $1 ORDER BY created_at DESC LIMIT 1`, prNumber)
	rec, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis by pr number: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, filter.State)
		argIdx++
	}
	if filter.IssueID != "" {
		conditions = append(conditions, fmt.Sprintf("issue_id = $%d", argIdx))
		args = append(args, filter.IssueID)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analyses WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM analyses WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		analysisColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var recs []*models.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func (s *PostgresStore) TransitionAnalysis(ctx context.Context, id uuid.UUID, from []string, to string, opts ...AnalysisUpdateOption) error {
	params := &analysisUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE analyses SET state = $2, updated_at = NOW()`
	args := []any{id, to}
	argIdx := 3

	if params.Stage != nil {
		query += fmt.Sprintf(", stage = $%d", argIdx)
		args = append(args, *params.Stage)
		argIdx++
	}
	if params.Result != nil {
		resultJSON, err := marshalResult(params.Result)
		if err != nil {
			return err
		}
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, resultJSON)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.StartedAt != nil {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, *params.StartedAt)
		argIdx++
	}
	if params.FinishedAt != nil {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, *params.FinishedAt)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND state = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition analysis: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row matched: distinguish missing, terminal, and bad source state.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT state FROM analyses WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get analysis state: %w", err)
	}
	if isTerminalState(current) {
		return ErrAlreadyTerminal
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.AnalysisEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the parent row so concurrent appends serialize.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT TRUE FROM analyses WHERE id = $1 FOR UPDATE`, event.AnalysisID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock analysis: %w", err)
	}

	var maxSeq int64
	var sealed bool
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0),
		        COALESCE(BOOL_OR(type IN ('result', 'error', 'cancelled')), FALSE)
		 FROM analysis_events WHERE analysis_id = $1`, event.AnalysisID,
	).Scan(&maxSeq, &sealed)
	if err != nil {
		return fmt.Errorf("inspect event log: %w", err)
	}
	if sealed {
		return ErrEventLogSealed
	}

	event.Seq = maxSeq + 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO analysis_events (analysis_id, seq, type, stage, message, payload, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)`,
		event.AnalysisID, event.Seq, event.Type, event.Stage, event.Message, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListEvents(ctx context.Context, analysisID uuid.UUID, afterSeq int64) ([]*models.AnalysisEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, seq, type, COALESCE(stage, ''), COALESCE(message, ''), COALESCE(payload, ''), created_at
		 FROM analysis_events WHERE analysis_id = $1 AND seq > $2 ORDER BY seq ASC`,
		analysisID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.AnalysisEvent
	for rows.Next() {
		var e models.AnalysisEvent
		if err := rows.Scan(&e.AnalysisID, &e.Seq, &e.Type, &e.Stage, &e.Message, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- PR lifecycle ---

func (s *PostgresStore) BeginPRCreation(ctx context.Context, analysisID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET pr_state = 'creating', updated_at = NOW()
		 WHERE id = $1 AND pr_state = 'none'`, analysisID)
	if err != nil {
		return fmt.Errorf("begin pr creation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT TRUE FROM analyses WHERE id = $1`, analysisID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check analysis: %w", err)
	}
	return ErrPRInProgress
}

func (s *PostgresStore) UpdatePR(ctx context.Context, analysisID uuid.UUID, state string, opts ...PRUpdateOption) error {
	params := &prUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE analyses SET pr_state = $2, updated_at = NOW()`
	args := []any{analysisID, state}
	argIdx := 3

	if params.Number != nil {
		query += fmt.Sprintf(", pr_number = $%d", argIdx)
		args = append(args, *params.Number)
		argIdx++
	}
	if params.URL != nil {
		query += fmt.Sprintf(", pr_url = $%d", argIdx)
		args = append(args, *params.URL)
		argIdx++
	}
	if params.Branch != nil {
		query += fmt.Sprintf(", pr_branch = $%d", argIdx)
		args = append(args, *params.Branch)
		argIdx++
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update pr: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Patterns ---

func (s *PostgresStore) CreatePattern(ctx context.Context, p *models.Pattern) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO patterns (id, kind, source, error_type, message, location, fix_summary, confidence, pr_number, analysis_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0), $10, $11)`,
		p.ID, p.Kind, p.Source, p.Signature.ErrorType, p.Signature.Message, p.Signature.Location,
		p.FixSummary, p.Confidence, p.PRNumber, p.AnalysisID, p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create pattern: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPatterns(ctx context.Context, filter PatternFilter) ([]*models.Pattern, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.ErrorType != "" {
		conditions = append(conditions, fmt.Sprintf("error_type = $%d", argIdx))
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT id, kind, source, error_type, message, location, confidence, fix_summary, COALESCE(pr_number, 0), analysis_id, created_at
		 FROM patterns WHERE %s ORDER BY created_at DESC`, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*models.Pattern
	for rows.Next() {
		var p models.Pattern
		if err := rows.Scan(&p.ID, &p.Kind, &p.Source, &p.Signature.ErrorType, &p.Signature.Message,
			&p.Signature.Location, &p.Confidence, &p.FixSummary, &p.PRNumber, &p.AnalysisID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

func (s *PostgresStore) PatternStats(ctx context.Context) (*models.LearningStats, error) {
	var stats models.LearningStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE kind = 'fix'),
		        COUNT(*) FILTER (WHERE kind = 'antipattern'),
		        COUNT(*) FILTER (WHERE kind = 'fix' AND confidence >= 0.8),
		        COUNT(*)
		 FROM patterns`,
	).Scan(&stats.TotalPatterns, &stats.TotalAntipatterns, &stats.HighConfidencePatterns, &stats.TotalEntries)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}
	return &stats, nil
}

// --- Bootstrap state ---

func (s *PostgresStore) GetBootstrapState(ctx context.Context) (*models.BootstrapState, error) {
	var state models.BootstrapState
	err := s.pool.QueryRow(ctx,
		`SELECT last_run_at, patterns_created FROM bootstrap_state WHERE id = TRUE`,
	).Scan(&state.LastRunAt, &state.PatternsCreated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bootstrap state: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) SetBootstrapState(ctx context.Context, state *models.BootstrapState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bootstrap_state (id, last_run_at, patterns_created)
		 VALUES (TRUE, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET
		   last_run_at = EXCLUDED.last_run_at,
		   patterns_created = EXCLUDED.patterns_created`,
		state.LastRunAt, state.PatternsCreated)
	if err != nil {
		return fmt.Errorf("set bootstrap state: %w", err)
	}
	return nil
}

// --- helpers ---

func isTerminalState(state string) bool {
	switch state {
	case models.AnalysisStateCompleted, models.AnalysisStateFailed, models.AnalysisStateCancelled:
		return true
	}
	return false
}

func marshalResult(r *models.AnalysisResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis result: %w", err)
	}
	return b, nil
}

// scanAnalysis scans one analyses row from either a Row or Rows.
func scanAnalysis(row pgx.Row) (*models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	var stage, errMsg, prURL, prBranch *string
	var prNumber *int
	var resultJSON []byte

	err := row.Scan(&rec.ID, &rec.IssueID, &rec.Fingerprint, &rec.GroupSize, &rec.State,
		&stage, &resultJSON, &errMsg, &rec.PRState, &prNumber, &prURL, &prBranch,
		&rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if stage != nil {
		rec.Stage = *stage
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	if prNumber != nil {
		rec.PRNumber = *prNumber
	}
	if prURL != nil {
		rec.PRURL = *prURL
	}
	if prBranch != nil {
		rec.PRBranch = *prBranch
	}
	if len(resultJSON) > 0 {
		var result models.AnalysisResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal analysis result: %w", err)
		}
		rec.Result = &result
	}
	return &rec, nil
}

// scanQueueEntry scans one queue_entries row from either a Row or Rows.
func scanQueueEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var analysisID *uuid.UUID

	err := row.Scan(&e.IssueID, &e.Title, &e.ErrorType, &e.Culprit, &e.Fingerprint,
		&e.Score, &e.Priority, &e.Count, &e.UserCount, &e.LastSeen,
		&e.Status, &analysisID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if analysisID != nil {
		e.AnalysisID = analysisID.String()
	}
	return &e, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
