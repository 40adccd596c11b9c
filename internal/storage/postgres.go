package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements storage using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		local_path TEXT,
		default_branch TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ,
		last_analyzed TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS commits (
		sha TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL REFERENCES repositories(id),
		author TEXT,
		author_email TEXT,
		message TEXT,
		timestamp TIMESTAMPTZ,
		parent_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS commit_branches (
		sha TEXT NOT NULL,
		branch TEXT NOT NULL,
		PRIMARY KEY (sha, branch)
	);

	CREATE TABLE IF NOT EXISTS file_changes (
		commit_sha TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		additions INTEGER DEFAULT 0,
		deletions INTEGER DEFAULT 0,
		author TEXT,
		author_email TEXT,
		message TEXT,
		timestamp TIMESTAMPTZ,
		PRIMARY KEY (commit_sha, path)
	);

	CREATE TABLE IF NOT EXISTS dependency_edges (
		repo_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		target_path TEXT NOT NULL,
		edge_type TEXT,
		strength DOUBLE PRECISION DEFAULT 1.0,
		PRIMARY KEY (repo_id, source_path, target_path)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		commit_time TIMESTAMPTZ NOT NULL,
		vector TEXT NOT NULL,
		source_text TEXT,
		created_at TIMESTAMPTZ,
		UNIQUE (repo_id, path, commit_sha)
	);

	CREATE TABLE IF NOT EXISTS ownership_deltas (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		author_email TEXT NOT NULL,
		total_delta DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (repo_id, path, author_email)
	);

	CREATE TABLE IF NOT EXISTS ownership_shares (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		author_email TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (repo_id, path, author_email)
	);

	CREATE TABLE IF NOT EXISTS replacement_events (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		original_commit TEXT NOT NULL,
		replacement_commit TEXT NOT NULL,
		original_author TEXT,
		replacement_author TEXT,
		semantic_dissimilarity DOUBLE PRECISION,
		time_proximity_days DOUBLE PRECISION,
		churn_magnitude INTEGER,
		message_signal DOUBLE PRECISION,
		event_score DOUBLE PRECISION,
		replaced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		UNIQUE (repo_id, path, original_commit, replacement_commit)
	);

	CREATE TABLE IF NOT EXISTS contributor_scores (
		repo_id TEXT NOT NULL,
		author_email TEXT NOT NULL,
		raw_score DOUBLE PRECISION,
		normalized_score DOUBLE PRECISION,
		total_commits INTEGER,
		event_count INTEGER,
		last_calculated_at TIMESTAMPTZ,
		PRIMARY KEY (repo_id, author_email)
	);

	CREATE TABLE IF NOT EXISTS review_requests (
		repo_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT,
		author TEXT,
		state TEXT,
		head_sha TEXT,
		files TEXT,
		updated_at TIMESTAMPTZ,
		PRIMARY KEY (repo_id, number)
	);

	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload BYTEA,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT DEFAULT '',
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_commits_repo ON commits(repo_id);
	CREATE INDEX IF NOT EXISTS idx_changes_repo_path ON file_changes(repo_id, path);
	CREATE INDEX IF NOT EXISTS idx_embeddings_lookup ON embeddings(repo_id, path, commit_time);
	CREATE INDEX IF NOT EXISTS idx_events_repo ON replacement_events(repo_id, replaced_at);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *PostgresStore) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
		INSERT INTO repositories
		(id, owner, name, full_name, local_path, default_branch, status, created_at, last_analyzed)
		VALUES (:id, :owner, :name, :full_name, :local_path, :default_branch, :status, :created_at, :last_analyzed)
		ON CONFLICT (id) DO UPDATE SET
			local_path = EXCLUDED.local_path,
			default_branch = EXCLUDED.default_branch,
			status = EXCLUDED.status,
			last_analyzed = EXCLUDED.last_analyzed
	`
	_, err := s.db.NamedExecContext(ctx, query, repo)
	if err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, repoID string) (*models.Repository, error) {
	var repo models.Repository
	query := `SELECT * FROM repositories WHERE id = $1`

	err := s.db.GetContext(ctx, &repo, query, repoID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, pkgerrors.NotFound("repository %s", repoID)
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}

	return &repo, nil
}

func (s *PostgresStore) SetRepositoryStatus(ctx context.Context, repoID string, status models.RepoStatus) error {
	query := `UPDATE repositories SET status = $1, last_analyzed = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), repoID)
	if err != nil {
		return fmt.Errorf("set repository status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NotFound("repository %s", repoID)
	}
	return nil
}

// Commit operations

func (s *PostgresStore) SaveCommits(ctx context.Context, commits []*models.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	commitQuery := `
		INSERT INTO commits (sha, repo_id, author, author_email, message, timestamp, parent_count)
		VALUES (:sha, :repo_id, :author, :author_email, :message, :timestamp, :parent_count)
		ON CONFLICT (sha) DO NOTHING
	`
	branchQuery := `INSERT INTO commit_branches (sha, branch) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	for _, commit := range commits {
		if _, err := tx.NamedExecContext(ctx, commitQuery, commit); err != nil {
			return fmt.Errorf("save commit: %w", err)
		}
		if commit.Branch != "" {
			if _, err := tx.ExecContext(ctx, branchQuery, commit.SHA, commit.Branch); err != nil {
				return fmt.Errorf("save commit branch: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) HasCommit(ctx context.Context, repoID, sha string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM commits WHERE repo_id = $1 AND sha = $2)`
	if err := s.db.GetContext(ctx, &exists, query, repoID, sha); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) LatestCommitTime(ctx context.Context, repoID string) (time.Time, error) {
	var ts sql.NullTime
	query := `SELECT MAX(timestamp) FROM commits WHERE repo_id = $1`
	if err := s.db.GetContext(ctx, &ts, query, repoID); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func (s *PostgresStore) CommitCountsByAuthor(ctx context.Context, repoID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT author_email, COUNT(1) FROM commits WHERE repo_id = $1 GROUP BY author_email`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var email string
		var n int
		if err := rows.Scan(&email, &n); err != nil {
			return nil, err
		}
		counts[email] = n
	}
	return counts, rows.Err()
}

// File change operations

func (s *PostgresStore) SaveFileChange(ctx context.Context, change *models.FileChange) error {
	query := `
		INSERT INTO file_changes
		(commit_sha, repo_id, path, additions, deletions, author, author_email, message, timestamp)
		VALUES (:commit_sha, :repo_id, :path, :additions, :deletions, :author, :author_email, :message, :timestamp)
		ON CONFLICT (commit_sha, path) DO UPDATE SET
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions
	`
	_, err := s.db.NamedExecContext(ctx, query, change)
	if err != nil {
		return fmt.Errorf("save file change: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFileChanges(ctx context.Context, repoID string) ([]models.FileChange, error) {
	var changes []models.FileChange
	query := `SELECT * FROM file_changes WHERE repo_id = $1 ORDER BY path, timestamp`
	if err := s.db.SelectContext(ctx, &changes, query, repoID); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *PostgresStore) ListFileChangesForPaths(ctx context.Context, repoID string, paths []string) ([]models.FileChange, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT * FROM file_changes WHERE repo_id = ? AND path IN (?) ORDER BY path, timestamp`,
		repoID, paths)
	if err != nil {
		return nil, err
	}
	var changes []models.FileChange
	if err := s.db.SelectContext(ctx, &changes, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return changes, nil
}

// Dependency edge operations

func (s *PostgresStore) SaveDependencyEdge(ctx context.Context, edge *models.DependencyEdge) error {
	query := `
		INSERT INTO dependency_edges (repo_id, source_path, target_path, edge_type, strength)
		VALUES (:repo_id, :source_path, :target_path, :edge_type, :strength)
		ON CONFLICT (repo_id, source_path, target_path) DO UPDATE SET
			edge_type = EXCLUDED.edge_type,
			strength = EXCLUDED.strength
	`
	_, err := s.db.NamedExecContext(ctx, query, edge)
	if err != nil {
		return fmt.Errorf("save dependency edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasDependencyEdge(ctx context.Context, repoID, sourcePath, targetPath string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM dependency_edges WHERE repo_id = $1 AND source_path = $2 AND target_path = $3)`
	if err := s.db.GetContext(ctx, &exists, query, repoID, sourcePath, targetPath); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) ListDependencyEdges(ctx context.Context, repoID string) ([]models.DependencyEdge, error) {
	var edges []models.DependencyEdge
	query := `SELECT * FROM dependency_edges WHERE repo_id = $1 ORDER BY source_path, target_path`
	if err := s.db.SelectContext(ctx, &edges, query, repoID); err != nil {
		return nil, err
	}
	return edges, nil
}

// Embedding operations

func (s *PostgresStore) SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	vec, err := encodeVector(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode embedding vector: %w", err)
	}
	query := `
		INSERT INTO embeddings
		(id, repo_id, path, commit_sha, commit_time, vector, source_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repo_id, path, commit_sha) DO UPDATE SET
			vector = EXCLUDED.vector,
			source_text = EXCLUDED.source_text
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.RepoID, rec.Path, rec.CommitSHA, rec.CommitTime,
		vec, rec.SourceText, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestEmbedding(ctx context.Context, repoID, path string) (*models.EmbeddingRecord, error) {
	var row embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = $1 AND path = $2
		ORDER BY commit_time DESC, created_at DESC LIMIT 1
	`
	err := s.db.GetContext(ctx, &row, query, repoID, path)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) LatestEmbeddingBefore(ctx context.Context, repoID, path string, before time.Time) (*models.EmbeddingRecord, error) {
	var row embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = $1 AND path = $2 AND commit_time < $3
		ORDER BY commit_time DESC, created_at DESC LIMIT 1
	`
	err := s.db.GetContext(ctx, &row, query, repoID, path, before)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) TwoLatestEmbeddings(ctx context.Context, repoID, path string, atOrBefore time.Time) ([]models.EmbeddingRecord, error) {
	var rows []embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = $1 AND path = $2 AND commit_time <= $3
		ORDER BY commit_time DESC, created_at DESC LIMIT 2
	`
	if err := s.db.SelectContext(ctx, &rows, query, repoID, path, atOrBefore); err != nil {
		return nil, err
	}
	records := make([]models.EmbeddingRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Ownership operations

func (s *PostgresStore) AddOwnershipDelta(ctx context.Context, repoID, path, authorEmail string, delta float64) error {
	query := `
		INSERT INTO ownership_deltas (repo_id, path, author_email, total_delta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, path, author_email)
		DO UPDATE SET total_delta = ownership_deltas.total_delta + EXCLUDED.total_delta
	`
	_, err := s.db.ExecContext(ctx, query, repoID, path, authorEmail, delta)
	if err != nil {
		return fmt.Errorf("add ownership delta: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOwnershipDeltas(ctx context.Context, repoID string) ([]models.OwnershipDelta, error) {
	var deltas []models.OwnershipDelta
	query := `SELECT * FROM ownership_deltas WHERE repo_id = $1 ORDER BY path, author_email`
	if err := s.db.SelectContext(ctx, &deltas, query, repoID); err != nil {
		return nil, err
	}
	return deltas, nil
}

func (s *PostgresStore) ReplaceOwnershipShares(ctx context.Context, repoID, path string, shares []models.OwnershipShare) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ownership_shares WHERE repo_id = $1 AND path = $2`, repoID, path); err != nil {
		return fmt.Errorf("clear ownership shares: %w", err)
	}

	query := `INSERT INTO ownership_shares (repo_id, path, author_email, score) VALUES ($1, $2, $3, $4)`
	for _, share := range shares {
		if _, err := tx.ExecContext(ctx, query, repoID, path, share.AuthorEmail, share.Score); err != nil {
			return fmt.Errorf("save ownership share: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) ListOwnershipShares(ctx context.Context, repoID, path string) ([]models.OwnershipShare, error) {
	var shares []models.OwnershipShare
	query := `SELECT * FROM ownership_shares WHERE repo_id = $1 AND path = $2 ORDER BY score DESC`
	if err := s.db.SelectContext(ctx, &shares, query, repoID, path); err != nil {
		return nil, err
	}
	return shares, nil
}

// Replacement event operations

func (s *PostgresStore) SaveReplacementEvent(ctx context.Context, event *models.ReplacementEvent) error {
	query := `
		INSERT INTO replacement_events
		(id, repo_id, path, original_commit, replacement_commit, original_author,
		 replacement_author, semantic_dissimilarity, time_proximity_days, churn_magnitude,
		 message_signal, event_score, replaced_at, created_at)
		VALUES (:id, :repo_id, :path, :original_commit, :replacement_commit, :original_author,
			:replacement_author, :semantic_dissimilarity, :time_proximity_days, :churn_magnitude,
			:message_signal, :event_score, :replaced_at, :created_at)
		ON CONFLICT (repo_id, path, original_commit, replacement_commit) DO UPDATE SET
			semantic_dissimilarity = EXCLUDED.semantic_dissimilarity,
			time_proximity_days = EXCLUDED.time_proximity_days,
			churn_magnitude = EXCLUDED.churn_magnitude,
			message_signal = EXCLUDED.message_signal,
			event_score = EXCLUDED.event_score
	`
	_, err := s.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return fmt.Errorf("save replacement event: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReplacementEvents(ctx context.Context, repoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM replacement_events WHERE repo_id = $1`, repoID)
	return err
}

func (s *PostgresStore) ListReplacementEvents(ctx context.Context, repoID string, since time.Time) ([]models.ReplacementEvent, error) {
	var events []models.ReplacementEvent
	query := `
		SELECT * FROM replacement_events WHERE repo_id = $1 AND replaced_at >= $2
		ORDER BY replaced_at
	`
	if err := s.db.SelectContext(ctx, &events, query, repoID, since); err != nil {
		return nil, err
	}
	return events, nil
}

// Contributor score operations

func (s *PostgresStore) SaveContributorScores(ctx context.Context, scores []models.ContributorScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO contributor_scores
		(repo_id, author_email, raw_score, normalized_score, total_commits, event_count, last_calculated_at)
		VALUES (:repo_id, :author_email, :raw_score, :normalized_score, :total_commits, :event_count, :last_calculated_at)
		ON CONFLICT (repo_id, author_email) DO UPDATE SET
			raw_score = EXCLUDED.raw_score,
			normalized_score = EXCLUDED.normalized_score,
			total_commits = EXCLUDED.total_commits,
			event_count = EXCLUDED.event_count,
			last_calculated_at = EXCLUDED.last_calculated_at
	`
	for _, score := range scores {
		if _, err := tx.NamedExecContext(ctx, query, score); err != nil {
			return fmt.Errorf("save contributor score: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) ListContributorScores(ctx context.Context, repoID string) ([]models.ContributorScore, error) {
	var scores []models.ContributorScore
	query := `SELECT * FROM contributor_scores WHERE repo_id = $1 ORDER BY normalized_score DESC`
	if err := s.db.SelectContext(ctx, &scores, query, repoID); err != nil {
		return nil, err
	}
	return scores, nil
}

// Review request operations

func (s *PostgresStore) UpsertReviewRequest(ctx context.Context, req *models.ReviewRequest) error {
	files, err := encodePaths(req.Files)
	if err != nil {
		return fmt.Errorf("encode review request files: %w", err)
	}
	query := `
		INSERT INTO review_requests
		(repo_id, number, title, author, state, head_sha, files, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repo_id, number) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			head_sha = EXCLUDED.head_sha,
			files = EXCLUDED.files,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		req.RepoID, req.Number, req.Title, req.Author, req.State,
		req.HeadSHA, files, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert review request: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOpenReviewRequests(ctx context.Context, repoID string) ([]models.ReviewRequest, error) {
	var rows []reviewRequestRow
	query := `SELECT * FROM review_requests WHERE repo_id = $1 AND state = 'open' ORDER BY number`
	if err := s.db.SelectContext(ctx, &rows, query, repoID); err != nil {
		return nil, err
	}
	requests := make([]models.ReviewRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toModel()
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// Queue operations

func (s *PostgresStore) Enqueue(ctx context.Context, item *models.QueueItem) error {
	query := `
		INSERT INTO queue_items
		(id, repo_id, kind, payload, status, attempts, last_error, created_at, updated_at)
		VALUES (:id, :repo_id, :kind, :payload, :status, :attempts, :last_error, :created_at, :updated_at)
	`
	_, err := s.db.NamedExecContext(ctx, query, item)
	if err != nil {
		return fmt.Errorf("enqueue item: %w", err)
	}
	return nil
}

// ClaimNext uses SKIP LOCKED so concurrent claimers settle on distinct rows
// without blocking each other.
func (s *PostgresStore) ClaimNext(ctx context.Context) (*models.QueueItem, error) {
	var item models.QueueItem
	query := `
		UPDATE queue_items SET status = $1, updated_at = $2
		WHERE id = (
			SELECT id FROM queue_items WHERE status = $3
			ORDER BY created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	err := s.db.GetContext(ctx, &item, query,
		models.QueueStatusProcessing, time.Now().UTC(), models.QueueStatusPending)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *PostgresStore) MarkStatus(ctx context.Context, id string, status models.QueueStatus, attempts int, lastError string) error {
	query := `UPDATE queue_items SET status = $1, attempts = $2, last_error = $3, updated_at = $4 WHERE id = $5`
	res, err := s.db.ExecContext(ctx, query, status, attempts, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark queue status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NotFound("queue item %s", id)
	}
	return nil
}
