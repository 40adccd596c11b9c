package models

import (
	"time"
)

// RepoStatus tracks the lifecycle of a repository's analysis.
type RepoStatus string

const (
	RepoStatusPending   RepoStatus = "pending"
	RepoStatusAnalyzing RepoStatus = "analyzing"
	RepoStatusReady     RepoStatus = "ready"
	RepoStatusErrored   RepoStatus = "errored"
)

// Repository represents a tracked source repository.
type Repository struct {
	ID            string     `json:"id" db:"id"`
	Owner         string     `json:"owner" db:"owner"`
	Name          string     `json:"name" db:"name"`
	FullName      string     `json:"full_name" db:"full_name"`
	LocalPath     string     `json:"local_path" db:"local_path"`
	DefaultBranch string     `json:"default_branch" db:"default_branch"`
	Status        RepoStatus `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastAnalyzed  time.Time  `json:"last_analyzed" db:"last_analyzed"`
}

// Commit is an immutable fact about one commit. Author identity is keyed
// by lower-cased email; display name is carried for presentation only.
type Commit struct {
	SHA         string    `json:"sha" db:"sha"`
	RepoID      string    `json:"repo_id" db:"repo_id"`
	Author      string    `json:"author" db:"author"`
	AuthorEmail string    `json:"author_email" db:"author_email"`
	Message     string    `json:"message" db:"message"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	ParentCount int       `json:"parent_count" db:"parent_count"`
	Branch      string    `json:"branch" db:"-"`
}

// File identifies a path within a repository. Renames are not tracked;
// they surface as a delete plus an add of a new File.
type File struct {
	ID        string    `json:"id" db:"id"`
	RepoID    string    `json:"repo_id" db:"repo_id"`
	Path      string    `json:"path" db:"path"`
	Language  string    `json:"language" db:"language"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
}

// FileChange records per-file churn for one commit. One row per file
// touched per commit, upserted idempotently.
type FileChange struct {
	CommitSHA   string    `json:"commit_sha" db:"commit_sha"`
	RepoID      string    `json:"repo_id" db:"repo_id"`
	Path        string    `json:"path" db:"path"`
	Additions   int       `json:"additions" db:"additions"`
	Deletions   int       `json:"deletions" db:"deletions"`
	Author      string    `json:"author" db:"author"`
	AuthorEmail string    `json:"author_email" db:"author_email"`
	Message     string    `json:"message" db:"message"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// DependencyEdge is a directed import relationship between two in-repo files.
type DependencyEdge struct {
	RepoID     string  `json:"repo_id" db:"repo_id"`
	SourcePath string  `json:"source_path" db:"source_path"`
	TargetPath string  `json:"target_path" db:"target_path"`
	EdgeType   string  `json:"edge_type" db:"edge_type"`
	Strength   float64 `json:"strength" db:"strength"`
}

// EmbeddingRecord is one entry in the append-only per-file embedding log.
// Keyed by commit SHA so the "previous" embedding can be selected by commit
// timestamp rather than insertion order.
type EmbeddingRecord struct {
	ID         string    `json:"id" db:"id"`
	RepoID     string    `json:"repo_id" db:"repo_id"`
	Path       string    `json:"path" db:"path"`
	CommitSHA  string    `json:"commit_sha" db:"commit_sha"`
	CommitTime time.Time `json:"commit_time" db:"commit_time"`
	Vector     []float64 `json:"vector" db:"-"`
	SourceText string    `json:"source_text" db:"source_text"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// OwnershipDelta is the durable running total of semantic change one author
// has introduced to one file. Persisted on every accumulation so a crashed
// run resumes instead of losing attribution.
type OwnershipDelta struct {
	RepoID      string  `json:"repo_id" db:"repo_id"`
	Path        string  `json:"path" db:"path"`
	AuthorEmail string  `json:"author_email" db:"author_email"`
	TotalDelta  float64 `json:"total_delta" db:"total_delta"`
}

// OwnershipShare is a normalized attribution of a file's accumulated
// semantic change to one contributor. Shares for a file sum to 1.0.
type OwnershipShare struct {
	RepoID      string  `json:"repo_id" db:"repo_id"`
	Path        string  `json:"path" db:"path"`
	AuthorEmail string  `json:"author_email" db:"author_email"`
	Score       float64 `json:"score" db:"score"`
}

// ReplacementEvent records a detected transition where one contributor's
// code in a file was substantially and quickly altered by another.
type ReplacementEvent struct {
	ID                   string    `json:"id" db:"id"`
	RepoID               string    `json:"repo_id" db:"repo_id"`
	Path                 string    `json:"path" db:"path"`
	OriginalCommit       string    `json:"original_commit" db:"original_commit"`
	ReplacementCommit    string    `json:"replacement_commit" db:"replacement_commit"`
	OriginalAuthor       string    `json:"original_author" db:"original_author"`
	ReplacementAuthor    string    `json:"replacement_author" db:"replacement_author"`
	SemanticDissimilarity float64  `json:"semantic_dissimilarity" db:"semantic_dissimilarity"`
	TimeProximityDays    float64   `json:"time_proximity_days" db:"time_proximity_days"`
	ChurnMagnitude       int       `json:"churn_magnitude" db:"churn_magnitude"`
	MessageSignal        float64   `json:"message_signal" db:"message_signal"`
	EventScore           float64   `json:"event_score" db:"event_score"`
	ReplacedAt           time.Time `json:"replaced_at" db:"replaced_at"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// ContributorScore is the derived, time-decayed instability aggregate for
// one contributor in one repository. Always recomputable from events.
type ContributorScore struct {
	RepoID           string    `json:"repo_id" db:"repo_id"`
	AuthorEmail      string    `json:"author_email" db:"author_email"`
	RawScore         float64   `json:"raw_score" db:"raw_score"`
	NormalizedScore  float64   `json:"normalized_score" db:"normalized_score"`
	TotalCommits     int       `json:"total_commits" db:"total_commits"`
	EventCount       int       `json:"event_count" db:"event_count"`
	LastCalculatedAt time.Time `json:"last_calculated_at" db:"last_calculated_at"`
}

// ReviewRequest mirrors an open review request on the hosting platform,
// cached locally with its changed-file set.
type ReviewRequest struct {
	RepoID    string    `json:"repo_id" db:"repo_id"`
	Number    int       `json:"number" db:"number"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	State     string    `json:"state" db:"state"`
	HeadSHA   string    `json:"head_sha" db:"head_sha"`
	Files     []string  `json:"files" db:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RequestRisk is the per-review-request line of a conflict assessment.
type RequestRisk struct {
	Number            int      `json:"number"`
	Risk              float64  `json:"risk"`
	StructuralOverlap float64  `json:"structural_overlap"`
	SemanticOverlap   float64  `json:"semantic_overlap"`
	OverlappingFiles  []string `json:"overlapping_files"`
	Conflicting       bool     `json:"conflicting"`
}

// ConflictAssessment is the ephemeral result of a conflict-risk query.
type ConflictAssessment struct {
	RepoID       string        `json:"repo_id"`
	ChangedFiles []string      `json:"changed_files"`
	RiskScore    float64       `json:"risk_score"`
	Requests     []RequestRisk `json:"requests"`
	AssessedAt   time.Time     `json:"assessed_at"`
}

// QueueStatus is the lifecycle of one durable queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is one durable work item. Payload is the raw event body;
// Kind identifies the decoded variant.
type QueueItem struct {
	ID        string      `json:"id" db:"id"`
	RepoID    string      `json:"repo_id" db:"repo_id"`
	Kind      string      `json:"kind" db:"kind"`
	Payload   []byte      `json:"payload" db:"payload"`
	Status    QueueStatus `json:"status" db:"status"`
	Attempts  int         `json:"attempts" db:"attempts"`
	LastError string      `json:"last_error" db:"last_error"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}
