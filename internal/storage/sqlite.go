package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements storage using SQLite (for local/development)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite storage
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		local_path TEXT,
		default_branch TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME,
		last_analyzed DATETIME
	);

	CREATE TABLE IF NOT EXISTS commits (
		sha TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		author TEXT,
		author_email TEXT,
		message TEXT,
		timestamp DATETIME,
		parent_count INTEGER DEFAULT 0,
		FOREIGN KEY (repo_id) REFERENCES repositories(id)
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
		timestamp DATETIME,
		PRIMARY KEY (commit_sha, path)
	);

	CREATE TABLE IF NOT EXISTS dependency_edges (
		repo_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		target_path TEXT NOT NULL,
		edge_type TEXT,
		strength REAL DEFAULT 1.0,
		PRIMARY KEY (repo_id, source_path, target_path)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		commit_time DATETIME NOT NULL,
		vector TEXT NOT NULL,
		source_text TEXT,
		created_at DATETIME,
		UNIQUE (repo_id, path, commit_sha)
	);

	CREATE TABLE IF NOT EXISTS ownership_deltas (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		author_email TEXT NOT NULL,
		total_delta REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (repo_id, path, author_email)
	);

	CREATE TABLE IF NOT EXISTS ownership_shares (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		author_email TEXT NOT NULL,
		score REAL NOT NULL,
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
		semantic_dissimilarity REAL,
		time_proximity_days REAL,
		churn_magnitude INTEGER,
		message_signal REAL,
		event_score REAL,
		replaced_at DATETIME,
		created_at DATETIME,
		UNIQUE (repo_id, path, original_commit, replacement_commit)
	);

	CREATE TABLE IF NOT EXISTS contributor_scores (
		repo_id TEXT NOT NULL,
		author_email TEXT NOT NULL,
		raw_score REAL,
		normalized_score REAL,
		total_commits INTEGER,
		event_count INTEGER,
		last_calculated_at DATETIME,
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
		updated_at DATETIME,
		PRIMARY KEY (repo_id, number)
	);

	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload BLOB,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
		INSERT OR REPLACE INTO repositories
		(id, owner, name, full_name, local_path, default_branch, status, created_at, last_analyzed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		repo.ID, repo.Owner, repo.Name, repo.FullName, repo.LocalPath,
		repo.DefaultBranch, repo.Status, repo.CreatedAt, repo.LastAnalyzed)
	return err
}

func (s *SQLiteStore) GetRepository(ctx context.Context, repoID string) (*models.Repository, error) {
	var repo models.Repository
	query := `SELECT * FROM repositories WHERE id = ?`

	err := s.db.GetContext(ctx, &repo, query, repoID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, pkgerrors.NotFound("repository %s", repoID)
		}
		return nil, err
	}

	return &repo, nil
}

func (s *SQLiteStore) SetRepositoryStatus(ctx context.Context, repoID string, status models.RepoStatus) error {
	query := `UPDATE repositories SET status = ?, last_analyzed = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), repoID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NotFound("repository %s", repoID)
	}
	return nil
}

// Commit operations

func (s *SQLiteStore) SaveCommits(ctx context.Context, commits []*models.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	commitQuery := `
		INSERT OR IGNORE INTO commits
		(sha, repo_id, author, author_email, message, timestamp, parent_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	branchQuery := `INSERT OR IGNORE INTO commit_branches (sha, branch) VALUES (?, ?)`

	for _, commit := range commits {
		_, err := tx.ExecContext(ctx, commitQuery,
			commit.SHA, commit.RepoID, commit.Author, commit.AuthorEmail,
			commit.Message, commit.Timestamp, commit.ParentCount)
		if err != nil {
			return err
		}
		if commit.Branch != "" {
			if _, err := tx.ExecContext(ctx, branchQuery, commit.SHA, commit.Branch); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) HasCommit(ctx context.Context, repoID, sha string) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM commits WHERE repo_id = ? AND sha = ?`
	if err := s.db.GetContext(ctx, &count, query, repoID, sha); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteStore) LatestCommitTime(ctx context.Context, repoID string) (time.Time, error) {
	var ts sql.NullTime
	query := `SELECT MAX(timestamp) FROM commits WHERE repo_id = ?`
	if err := s.db.GetContext(ctx, &ts, query, repoID); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func (s *SQLiteStore) CommitCountsByAuthor(ctx context.Context, repoID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT author_email, COUNT(1) FROM commits WHERE repo_id = ? GROUP BY author_email`, repoID)
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

func (s *SQLiteStore) SaveFileChange(ctx context.Context, change *models.FileChange) error {
	query := `
		INSERT OR REPLACE INTO file_changes
		(commit_sha, repo_id, path, additions, deletions, author, author_email, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		change.CommitSHA, change.RepoID, change.Path, change.Additions, change.Deletions,
		change.Author, change.AuthorEmail, change.Message, change.Timestamp)
	return err
}

func (s *SQLiteStore) ListFileChanges(ctx context.Context, repoID string) ([]models.FileChange, error) {
	var changes []models.FileChange
	query := `SELECT * FROM file_changes WHERE repo_id = ? ORDER BY path, timestamp`
	if err := s.db.SelectContext(ctx, &changes, query, repoID); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *SQLiteStore) ListFileChangesForPaths(ctx context.Context, repoID string, paths []string) ([]models.FileChange, error) {
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

func (s *SQLiteStore) SaveDependencyEdge(ctx context.Context, edge *models.DependencyEdge) error {
	query := `
		INSERT OR REPLACE INTO dependency_edges
		(repo_id, source_path, target_path, edge_type, strength)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		edge.RepoID, edge.SourcePath, edge.TargetPath, edge.EdgeType, edge.Strength)
	return err
}

func (s *SQLiteStore) HasDependencyEdge(ctx context.Context, repoID, sourcePath, targetPath string) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM dependency_edges WHERE repo_id = ? AND source_path = ? AND target_path = ?`
	if err := s.db.GetContext(ctx, &count, query, repoID, sourcePath, targetPath); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteStore) ListDependencyEdges(ctx context.Context, repoID string) ([]models.DependencyEdge, error) {
	var edges []models.DependencyEdge
	query := `SELECT * FROM dependency_edges WHERE repo_id = ? ORDER BY source_path, target_path`
	if err := s.db.SelectContext(ctx, &edges, query, repoID); err != nil {
		return nil, err
	}
	return edges, nil
}

// Embedding operations

type embeddingRow struct {
	ID         string    `db:"id"`
	RepoID     string    `db:"repo_id"`
	Path       string    `db:"path"`
	CommitSHA  string    `db:"commit_sha"`
	CommitTime time.Time `db:"commit_time"`
	Vector     string    `db:"vector"`
	SourceText string    `db:"source_text"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r embeddingRow) toModel() (*models.EmbeddingRecord, error) {
	vec, err := decodeVector(r.Vector)
	if err != nil {
		return nil, fmt.Errorf("decode embedding vector: %w", err)
	}
	return &models.EmbeddingRecord{
		ID:         r.ID,
		RepoID:     r.RepoID,
		Path:       r.Path,
		CommitSHA:  r.CommitSHA,
		CommitTime: r.CommitTime,
		Vector:     vec,
		SourceText: r.SourceText,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	vec, err := encodeVector(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode embedding vector: %w", err)
	}
	query := `
		INSERT OR REPLACE INTO embeddings
		(id, repo_id, path, commit_sha, commit_time, vector, source_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.RepoID, rec.Path, rec.CommitSHA, rec.CommitTime,
		vec, rec.SourceText, rec.CreatedAt)
	return err
}

func (s *SQLiteStore) LatestEmbedding(ctx context.Context, repoID, path string) (*models.EmbeddingRecord, error) {
	var row embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = ? AND path = ?
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

func (s *SQLiteStore) LatestEmbeddingBefore(ctx context.Context, repoID, path string, before time.Time) (*models.EmbeddingRecord, error) {
	var row embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = ? AND path = ? AND commit_time < ?
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

func (s *SQLiteStore) TwoLatestEmbeddings(ctx context.Context, repoID, path string, atOrBefore time.Time) ([]models.EmbeddingRecord, error) {
	var rows []embeddingRow
	query := `
		SELECT * FROM embeddings WHERE repo_id = ? AND path = ? AND commit_time <= ?
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

func (s *SQLiteStore) AddOwnershipDelta(ctx context.Context, repoID, path, authorEmail string, delta float64) error {
	query := `
		INSERT INTO ownership_deltas (repo_id, path, author_email, total_delta)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, path, author_email)
		DO UPDATE SET total_delta = total_delta + excluded.total_delta
	`
	_, err := s.db.ExecContext(ctx, query, repoID, path, authorEmail, delta)
	return err
}

func (s *SQLiteStore) ListOwnershipDeltas(ctx context.Context, repoID string) ([]models.OwnershipDelta, error) {
	var deltas []models.OwnershipDelta
	query := `SELECT * FROM ownership_deltas WHERE repo_id = ? ORDER BY path, author_email`
	if err := s.db.SelectContext(ctx, &deltas, query, repoID); err != nil {
		return nil, err
	}
	return deltas, nil
}

func (s *SQLiteStore) ReplaceOwnershipShares(ctx context.Context, repoID, path string, shares []models.OwnershipShare) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ownership_shares WHERE repo_id = ? AND path = ?`, repoID, path); err != nil {
		return err
	}

	query := `INSERT INTO ownership_shares (repo_id, path, author_email, score) VALUES (?, ?, ?, ?)`
	for _, share := range shares {
		if _, err := tx.ExecContext(ctx, query, repoID, path, share.AuthorEmail, share.Score); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListOwnershipShares(ctx context.Context, repoID, path string) ([]models.OwnershipShare, error) {
	var shares []models.OwnershipShare
	query := `SELECT * FROM ownership_shares WHERE repo_id = ? AND path = ? ORDER BY score DESC`
	if err := s.db.SelectContext(ctx, &shares, query, repoID, path); err != nil {
		return nil, err
	}
	return shares, nil
}

// Replacement event operations

func (s *SQLiteStore) SaveReplacementEvent(ctx context.Context, event *models.ReplacementEvent) error {
	query := `
		INSERT INTO replacement_events
		(id, repo_id, path, original_commit, replacement_commit, original_author,
		 replacement_author, semantic_dissimilarity, time_proximity_days, churn_magnitude,
		 message_signal, event_score, replaced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, path, original_commit, replacement_commit)
		DO UPDATE SET
			semantic_dissimilarity = excluded.semantic_dissimilarity,
			time_proximity_days = excluded.time_proximity_days,
			churn_magnitude = excluded.churn_magnitude,
			message_signal = excluded.message_signal,
			event_score = excluded.event_score
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.RepoID, event.Path, event.OriginalCommit, event.ReplacementCommit,
		event.OriginalAuthor, event.ReplacementAuthor, event.SemanticDissimilarity,
		event.TimeProximityDays, event.ChurnMagnitude, event.MessageSignal,
		event.EventScore, event.ReplacedAt, event.CreatedAt)
	return err
}

func (s *SQLiteStore) DeleteReplacementEvents(ctx context.Context, repoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM replacement_events WHERE repo_id = ?`, repoID)
	return err
}

func (s *SQLiteStore) ListReplacementEvents(ctx context.Context, repoID string, since time.Time) ([]models.ReplacementEvent, error) {
	var events []models.ReplacementEvent
	query := `
		SELECT * FROM replacement_events WHERE repo_id = ? AND replaced_at >= ?
		ORDER BY replaced_at
	`
	if err := s.db.SelectContext(ctx, &events, query, repoID, since); err != nil {
		return nil, err
	}
	return events, nil
}

// Contributor score operations

func (s *SQLiteStore) SaveContributorScores(ctx context.Context, scores []models.ContributorScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO contributor_scores
		(repo_id, author_email, raw_score, normalized_score, total_commits, event_count, last_calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, score := range scores {
		_, err := tx.ExecContext(ctx, query,
			score.RepoID, score.AuthorEmail, score.RawScore, score.NormalizedScore,
			score.TotalCommits, score.EventCount, score.LastCalculatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListContributorScores(ctx context.Context, repoID string) ([]models.ContributorScore, error) {
	var scores []models.ContributorScore
	query := `SELECT * FROM contributor_scores WHERE repo_id = ? ORDER BY normalized_score DESC`
	if err := s.db.SelectContext(ctx, &scores, query, repoID); err != nil {
		return nil, err
	}
	return scores, nil
}

// Review request operations

type reviewRequestRow struct {
	RepoID    string    `db:"repo_id"`
	Number    int       `db:"number"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	State     string    `db:"state"`
	HeadSHA   string    `db:"head_sha"`
	Files     string    `db:"files"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r reviewRequestRow) toModel() (models.ReviewRequest, error) {
	files, err := decodePaths(r.Files)
	if err != nil {
		return models.ReviewRequest{}, fmt.Errorf("decode review request files: %w", err)
	}
	return models.ReviewRequest{
		RepoID:    r.RepoID,
		Number:    r.Number,
		Title:     r.Title,
		Author:    r.Author,
		State:     r.State,
		HeadSHA:   r.HeadSHA,
		Files:     files,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) UpsertReviewRequest(ctx context.Context, req *models.ReviewRequest) error {
	files, err := encodePaths(req.Files)
	if err != nil {
		return fmt.Errorf("encode review request files: %w", err)
	}
	query := `
		INSERT OR REPLACE INTO review_requests
		(repo_id, number, title, author, state, head_sha, files, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		req.RepoID, req.Number, req.Title, req.Author, req.State,
		req.HeadSHA, files, req.UpdatedAt)
	return err
}

func (s *SQLiteStore) ListOpenReviewRequests(ctx context.Context, repoID string) ([]models.ReviewRequest, error) {
	var rows []reviewRequestRow
	query := `SELECT * FROM review_requests WHERE repo_id = ? AND state = 'open' ORDER BY number`
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

func (s *SQLiteStore) Enqueue(ctx context.Context, item *models.QueueItem) error {
	query := `
		INSERT INTO queue_items
		(id, repo_id, kind, payload, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.RepoID, item.Kind, item.Payload, item.Status,
		item.Attempts, item.LastError, item.CreatedAt, item.UpdatedAt)
	return err
}

// ClaimNext selects the oldest pending item and flips it to processing
// inside one transaction. The rows-affected check guards against a
// concurrent claimer winning the same row.
func (s *SQLiteStore) ClaimNext(ctx context.Context) (*models.QueueItem, error) {
	for {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var item models.QueueItem
		err = tx.GetContext(ctx, &item,
			`SELECT * FROM queue_items WHERE status = ? ORDER BY created_at LIMIT 1`,
			models.QueueStatusPending)
		if err != nil {
			tx.Rollback()
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.QueueStatusProcessing, time.Now().UTC(), item.ID, models.QueueStatusPending)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if n == 0 {
			// Lost the race; try the next pending item.
			tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		item.Status = models.QueueStatusProcessing
		return &item, nil
	}
}

func (s *SQLiteStore) MarkStatus(ctx context.Context, id string, status models.QueueStatus, attempts int, lastError string) error {
	query := `UPDATE queue_items SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, status, attempts, lastError, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NotFound("queue item %s", id)
	}
	return nil
}
