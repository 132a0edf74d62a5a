package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("triagent_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- API Key Tests ---

func TestPostgres_APIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "ta_abcd",
		Scopes:    []string{"read", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "ta_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Equal(t, []string{"read", "admin"}, keys[0].Scopes)
}

func TestPostgres_APIKey_RevokeHidesKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "k", KeyHash: "h", KeyPrefix: "ta_dead",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "ta_dead")
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = s.RevokeAPIKey(ctx, key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Queue Tests ---

func TestPostgres_Queue_UpsertIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	entry := newQueueEntry("SENTRY-100", 55)
	created, err := s.UpsertQueueEntry(ctx, entry)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, s.UpdateQueueStatus(ctx, "SENTRY-100", models.QueueStatusAnalyzing))

	refreshed := newQueueEntry("SENTRY-100", 80)
	refreshed.Count = 400
	created, err = s.UpsertQueueEntry(ctx, refreshed)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetQueueEntry(ctx, "SENTRY-100")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Score)
	assert.Equal(t, 400, got.Count)
	assert.Equal(t, models.QueueStatusAnalyzing, got.Status)
}

func TestPostgres_Queue_ListFiltersAndPaginates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i, score := range []float64{90, 70, 50, 30} {
		entry := newQueueEntry(issueID(i), score)
		if score >= 80 {
			entry.Priority = models.PriorityCritical
		}
		_, err := s.UpsertQueueEntry(ctx, entry)
		require.NoError(t, err)
	}

	page, total, err := s.ListQueue(ctx, store.QueueFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, 90.0, page[0].Score)

	critical, total, err := s.ListQueue(ctx, store.QueueFilter{Priority: models.PriorityCritical})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, critical, 1)
}

// --- Analysis Tests ---

func TestPostgres_Analysis_LifecycleWithResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, rec))

	require.NoError(t, s.TransitionAnalysis(ctx, rec.ID,
		[]string{models.AnalysisStatePending}, models.AnalysisStateRunning,
		store.WithStartedAt(time.Now().UTC())))

	result := &models.AnalysisResult{
		RootCause:     "session map accessed before login middleware ran",
		ProposedFix:   "guard the lookup",
		AffectedFiles: []string{"api/session.py"},
		Confidence:    0.85,
		PatternsUsed:  2,
	}
	require.NoError(t, s.TransitionAnalysis(ctx, rec.ID,
		[]string{models.AnalysisStateRunning}, models.AnalysisStateCompleted,
		store.WithResult(result), store.WithFinishedAt(time.Now().UTC())))

	got, err := s.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStateCompleted, got.State)
	require.NotNil(t, got.Result)
	assert.Equal(t, 0.85, got.Result.Confidence)
	assert.Equal(t, []string{"api/session.py"}, got.Result.AffectedFiles)
}

func TestPostgres_Analysis_TerminalIsFinal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, rec))
	require.NoError(t, s.TransitionAnalysis(ctx, rec.ID,
		[]string{models.AnalysisStatePending}, models.AnalysisStateRunning))
	require.NoError(t, s.TransitionAnalysis(ctx, rec.ID,
		[]string{models.AnalysisStateRunning}, models.AnalysisStateCancelled))

	err := s.TransitionAnalysis(ctx, rec.ID,
		[]string{models.AnalysisStateRunning}, models.AnalysisStateCompleted)
	assert.ErrorIs(t, err, store.ErrAlreadyTerminal)
}

func TestPostgres_Analysis_EventLogSealing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, rec))

	for i := 0; i < 3; i++ {
		e := &models.AnalysisEvent{AnalysisID: rec.ID, Type: models.EventTypeProgress, Message: "step"}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Seq)
	}
	require.NoError(t, s.AppendEvent(ctx, &models.AnalysisEvent{AnalysisID: rec.ID, Type: models.EventTypeResult}))

	err := s.AppendEvent(ctx, &models.AnalysisEvent{AnalysisID: rec.ID, Type: models.EventTypeProgress})
	assert.ErrorIs(t, err, store.ErrEventLogSealed)

	tail, err := s.ListEvents(ctx, rec.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Seq)
	assert.Equal(t, models.EventTypeResult, tail[1].Type)
}

func TestPostgres_PR_BeginCreationCAS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, rec))

	require.NoError(t, s.BeginPRCreation(ctx, rec.ID))
	assert.ErrorIs(t, s.BeginPRCreation(ctx, rec.ID), store.ErrPRInProgress)

	require.NoError(t, s.UpdatePR(ctx, rec.ID, models.PRStateCreated,
		store.WithPRNumber(11), store.WithPRURL("https://github.com/acme/checkout/pull/11")))

	byPR, err := s.GetAnalysisByPRNumber(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byPR.ID)
}

// --- Pattern Tests ---

func TestPostgres_Patterns_CreateListStats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	aid := uuid.New()
	patterns := []*models.Pattern{
		{ID: uuid.New(), Kind: models.PatternKindFix, Source: models.PatternSourceLive, Confidence: 0.9, PRNumber: 3,
			AnalysisID: &aid, FixSummary: "guard nil map",
			Signature: models.PatternSignature{ErrorType: "KeyError", Message: "missing key", Location: "api/session.py"},
			CreatedAt: now},
		{ID: uuid.New(), Kind: models.PatternKindAnti, Source: models.PatternSourceLive, Confidence: 0.2,
			FixSummary: "retry loop made it worse",
			Signature:  models.PatternSignature{ErrorType: "TimeoutError", Message: "upstream slow"},
			CreatedAt:  now},
	}
	for _, p := range patterns {
		require.NoError(t, s.CreatePattern(ctx, p))
	}

	fixes, err := s.ListPatterns(ctx, store.PatternFilter{Kind: models.PatternKindFix})
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "KeyError", fixes[0].Signature.ErrorType)
	assert.Equal(t, "api/session.py", fixes[0].Signature.Location)
	assert.Equal(t, 3, fixes[0].PRNumber)

	stats, err := s.PatternStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, 1, stats.TotalAntipatterns)
	assert.Equal(t, 1, stats.HighConfidencePatterns)
	assert.Equal(t, 2, stats.TotalEntries)
}

func TestPostgres_BootstrapState_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.GetBootstrapState(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ran := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.SetBootstrapState(ctx, &models.BootstrapState{LastRunAt: ran, PatternsCreated: 8}))

	got, err := s.GetBootstrapState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, got.PatternsCreated)
	assert.WithinDuration(t, ran, got.LastRunAt, time.Millisecond)

	// Upsert replaces the singleton row.
	later := ran.Add(time.Hour)
	require.NoError(t, s.SetBootstrapState(ctx, &models.BootstrapState{LastRunAt: later, PatternsCreated: 20}))
	got, err = s.GetBootstrapState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, got.PatternsCreated)
}

func issueID(i int) string {
	return "SENTRY-" + string(rune('A'+i))
}
