package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/codepulse/codepulse-go/internal/conflict"
	"github.com/codepulse/codepulse-go/internal/deps"
	"github.com/codepulse/codepulse-go/internal/embedding"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/gitwalk"
	"github.com/codepulse/codepulse-go/internal/graphstore"
	"github.com/codepulse/codepulse-go/internal/hosting"
	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/codepulse/codepulse-go/internal/ownership"
	"github.com/codepulse/codepulse-go/internal/parser"
	"github.com/codepulse/codepulse-go/internal/replacement"
	"github.com/codepulse/codepulse-go/internal/reviewcache"
	"github.com/codepulse/codepulse-go/internal/storage"
)

// Hosting is the slice of the hosting client the runner needs; kept as an
// interface so tests can run without network access.
type Hosting interface {
	FetchOpenReviewRequests(ctx context.Context, owner, name string) ([]models.ReviewRequest, error)
	FetchRequestFiles(ctx context.Context, owner, name string, number int) ([]string, error)
	PublishConflictStatus(ctx context.Context, owner, name, sha string, assessment *models.ConflictAssessment, block bool) error
}

// GraphMirror mirrors dependency edges into the graph database.
type GraphMirror interface {
	Sync(ctx context.Context, source graphstore.EdgeSource, repoID string) (int, error)
}

// Runner executes analysis work against one repository at a time. Every
// run is supervised: a per-repository in-flight guard ensures at most one
// run per repo, and the run's context can be cancelled from outside.
type Runner struct {
	cfg      *config.Config
	store    storage.Store
	parser   parser.Service
	gateway  embedding.Gateway
	hosting  Hosting
	notifier hosting.Notifier
	reviews  *reviewcache.Cache
	mirror   GraphMirror
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRunner creates a runner. hosting, notifier, reviews, and mirror may
// be nil; the corresponding steps are skipped.
func NewRunner(cfg *config.Config, store storage.Store, parserSvc parser.Service, gateway embedding.Gateway) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   store,
		parser:  parserSvc,
		gateway: gateway,
		logger:  logging.Component("pipeline"),
		active:  make(map[string]context.CancelFunc),
	}
}

// WithHosting attaches the platform client and notification channel.
func (r *Runner) WithHosting(h Hosting, n hosting.Notifier) *Runner {
	r.hosting = h
	r.notifier = n
	return r
}

// WithReviewCache attaches the local review-request snapshot.
func (r *Runner) WithReviewCache(c *reviewcache.Cache) *Runner {
	r.reviews = c
	return r
}

// WithGraphMirror attaches the dependency-graph mirror.
func (r *Runner) WithGraphMirror(m GraphMirror) *Runner {
	r.mirror = m
	return r
}

// begin registers an in-flight run for the repository. The second return
// is false when a run is already active.
func (r *Runner) begin(ctx context.Context, repoID string) (context.Context, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[repoID]; running {
		return nil, nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active[repoID] = cancel
	release := func() {
		r.mu.Lock()
		delete(r.active, repoID)
		r.mu.Unlock()
		cancel()
	}
	return runCtx, release, true
}

// Cancel aborts an in-flight run for the repository, if any.
func (r *Runner) Cancel(repoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, running := r.active[repoID]
	if running {
		cancel()
	}
	return running
}

// FullAnalysis walks the repository's entire history and rebuilds every
// derived artifact: commits, file changes, dependency edges, embeddings,
// ownership shares, replacement events, and contributor scores. A fatal
// failure leaves the repository in the errored state.
func (r *Runner) FullAnalysis(ctx context.Context, repoID string) error {
	runCtx, release, ok := r.begin(ctx, repoID)
	if !ok {
		r.logger.Warn("analysis already in flight, skipping", "repo", repoID)
		return nil
	}
	defer release()

	repo, err := r.store.GetRepository(runCtx, repoID)
	if err != nil {
		return err
	}
	if err := r.store.SetRepositoryStatus(runCtx, repoID, models.RepoStatusAnalyzing); err != nil {
		return err
	}

	if err := r.runFullAnalysis(runCtx, repo); err != nil {
		if statusErr := r.store.SetRepositoryStatus(context.WithoutCancel(runCtx), repoID, models.RepoStatusErrored); statusErr != nil {
			r.logger.Error("failed to mark repository errored", "repo", repoID, "error", statusErr)
		}
		return err
	}

	return r.store.SetRepositoryStatus(runCtx, repoID, models.RepoStatusReady)
}

func (r *Runner) runFullAnalysis(ctx context.Context, repo *models.Repository) error {
	started := time.Now()
	walker := gitwalk.NewWalker(repo.LocalPath)

	branches, err := walker.Branches(ctx)
	if err != nil {
		return pkgerrors.Fatal("list branches", err)
	}

	attributor := ownership.NewAttributor(r.store, r.gateway, r.parser)
	for _, branch := range branches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ingestBranch(ctx, repo, walker, attributor, branch, branch == repo.DefaultBranch); err != nil {
			return err
		}
	}

	if err := r.resolveDependencies(ctx, repo, walker); err != nil {
		return err
	}

	if _, err := attributor.Normalize(ctx, repo.ID); err != nil {
		return err
	}

	detector := replacement.NewDetector(r.cfg.Detector, r.store)
	events, err := detector.Recalculate(ctx, repo.ID)
	if err != nil {
		return err
	}

	aggregator := replacement.NewAggregator(r.store)
	if _, err := aggregator.Refresh(ctx, repo.ID); err != nil {
		return err
	}

	if err := r.RefreshReviewRequests(ctx, repo); err != nil {
		// Stale review data degrades conflict assessment but does not
		// invalidate the analysis itself.
		r.logger.Warn("review request refresh failed", "repo", repo.ID, "error", err)
	}

	if r.mirror != nil {
		if _, err := r.mirror.Sync(ctx, r.store, repo.ID); err != nil {
			r.logger.Warn("graph mirror sync failed", "repo", repo.ID, "error", err)
		}
	}

	r.logger.Info("full analysis complete",
		"repo", repo.ID, "branches", len(branches), "events", events,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// ingestBranch persists a branch's commits and file changes. Ownership
// attribution runs only on the default branch so each file keeps a single
// linear embedding chain.
func (r *Runner) ingestBranch(ctx context.Context, repo *models.Repository, walker *gitwalk.Walker, attributor *ownership.Attributor, branch string, attribute bool) error {
	entries, err := walker.Walk(ctx, repo.ID, branch)
	if err != nil {
		return pkgerrors.Fatal("walk branch "+branch, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		commit := entry.Commit
		if err := r.store.SaveCommits(ctx, []*models.Commit{&commit}); err != nil {
			return err
		}
		for i := range entry.Changes {
			change := entry.Changes[i]
			if err := r.store.SaveFileChange(ctx, &change); err != nil {
				return err
			}
			if attribute {
				if err := r.attributeChange(ctx, walker, attributor, change); err != nil {
					return err
				}
			}
		}
	}

	r.logger.Info("branch ingested", "repo", repo.ID, "branch", branch, "commits", len(entries))
	return nil
}

// attributeChange runs ownership attribution for one file change. Files
// outside the supported language set and files absent at the commit (a
// deletion) contribute nothing.
func (r *Runner) attributeChange(ctx context.Context, walker *gitwalk.Walker, attributor *ownership.Attributor, change models.FileChange) error {
	language := deps.LanguageForPath(change.Path)
	if language == "" {
		return nil
	}

	code, err := walker.FileAt(ctx, change.CommitSHA, change.Path)
	if err != nil {
		if pkgerrors.IsKind(err, pkgerrors.KindNotFound) {
			return nil
		}
		return err
	}

	return attributor.ProcessChange(ctx, change, code, language)
}

// resolveDependencies parses imports at the default branch tip and
// reconciles the edge set, adding only missing pairs.
func (r *Runner) resolveDependencies(ctx context.Context, repo *models.Repository, walker *gitwalk.Walker) error {
	files, err := walker.ListFiles(ctx, repo.DefaultBranch)
	if err != nil {
		return pkgerrors.Fatal("list files at branch tip", err)
	}

	imports := make(map[string]deps.FileImports)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		language := deps.LanguageForPath(path)
		if language == "" {
			continue
		}
		code, err := walker.FileAt(ctx, repo.DefaultBranch, path)
		if err != nil {
			continue
		}
		parsed, err := r.parser.Parse(ctx, code, language)
		if err != nil {
			if pkgerrors.IsTransient(err) || pkgerrors.IsKind(err, pkgerrors.KindNotFound) {
				continue
			}
			return err
		}
		imports[path] = deps.FileImports{Language: language, Imports: parsed.Imports}
	}

	resolver := deps.NewResolver(repo.ID, files)
	added, err := resolver.Reconcile(ctx, r.store, imports)
	if err != nil {
		return err
	}
	r.logger.Info("dependency edges reconciled", "repo", repo.ID, "added", added)
	return nil
}

// HandlePush ingests new commits from a push, extends detection over the
// touched paths, and assesses conflict risk against open review requests.
func (r *Runner) HandlePush(ctx context.Context, ev PushEvent) error {
	runCtx, release, ok := r.begin(ctx, ev.RepoID)
	if !ok {
		return pkgerrors.Transient("analysis in flight for "+ev.RepoID+", push deferred", nil)
	}
	defer release()

	repo, err := r.store.GetRepository(runCtx, ev.RepoID)
	if err != nil {
		return err
	}

	branch := ev.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}

	walker := gitwalk.NewWalker(repo.LocalPath)
	attributor := ownership.NewAttributor(r.store, r.gateway, r.parser)

	entries, err := walker.Walk(runCtx, repo.ID, branch)
	if err != nil {
		return pkgerrors.Fatal("walk branch "+branch, err)
	}

	touched := make(map[string]bool)
	attribute := branch == repo.DefaultBranch
	for _, entry := range entries {
		known, err := r.store.HasCommit(runCtx, repo.ID, entry.Commit.SHA)
		if err != nil {
			return err
		}
		if known {
			continue
		}

		commit := entry.Commit
		if err := r.store.SaveCommits(runCtx, []*models.Commit{&commit}); err != nil {
			return err
		}
		for i := range entry.Changes {
			change := entry.Changes[i]
			if err := r.store.SaveFileChange(runCtx, &change); err != nil {
				return err
			}
			touched[change.Path] = true
			if attribute {
				if err := r.attributeChange(runCtx, walker, attributor, change); err != nil {
					return err
				}
			}
		}
	}

	paths := ev.Paths
	if len(paths) == 0 {
		for p := range touched {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		r.logger.Info("push carried no new work", "repo", repo.ID, "branch", branch)
		return nil
	}

	if _, err := attributor.Normalize(runCtx, repo.ID); err != nil {
		return err
	}

	detector := replacement.NewDetector(r.cfg.Detector, r.store)
	if _, err := detector.Extend(runCtx, repo.ID, paths); err != nil {
		return err
	}
	aggregator := replacement.NewAggregator(r.store)
	if _, err := aggregator.Refresh(runCtx, repo.ID); err != nil {
		return err
	}

	return r.AssessAndPublish(runCtx, repo, ev.HeadSHA, paths)
}

// AssessAndPublish runs the conflict-risk query for a pushed head and
// publishes the outcome: a commit status (blocking at or above the
// threshold) and a notification per conflicting request. Notification
// failures are logged, never propagated.
func (r *Runner) AssessAndPublish(ctx context.Context, repo *models.Repository, headSHA string, changedFiles []string) error {
	engine := conflict.NewEngine(r.cfg.Conflict, r.store)
	assessment, err := engine.Assess(ctx, repo.ID, changedFiles)
	if err != nil {
		return err
	}

	block := assessment.RiskScore >= r.cfg.Conflict.BlockThreshold
	if r.hosting != nil && headSHA != "" {
		if err := r.hosting.PublishConflictStatus(ctx, repo.Owner, repo.Name, headSHA, assessment, block); err != nil {
			return err
		}
	}

	if r.notifier != nil {
		for _, req := range assessment.Requests {
			if !req.Conflicting {
				continue
			}
			if err := r.notifier.NotifyConflict(ctx, repo.ID, headSHA, req); err != nil {
				r.logger.Warn("conflict notification failed",
					"repo", repo.ID, "request", req.Number, "error", err)
			}
		}
	}

	r.logger.Info("conflict assessment published",
		"repo", repo.ID, "head", headSHA, "risk", assessment.RiskScore, "blocked", block)
	return nil
}

// HandleReviewRequest upserts the stored request and refreshes the local
// snapshot of the open set. Webhook payloads omit the changed-file list,
// so it is fetched from the platform; when the platform is unreachable the
// previously stored set is preserved rather than wiped.
func (r *Runner) HandleReviewRequest(ctx context.Context, ev ReviewRequestEvent) error {
	files, err := r.requestFiles(ctx, ev)
	if err != nil {
		return err
	}

	req := &models.ReviewRequest{
		RepoID:    ev.RepoID,
		Number:    ev.Number,
		Title:     ev.Title,
		Author:    ev.Author,
		State:     strings.ToLower(ev.State),
		HeadSHA:   ev.HeadSHA,
		Files:     files,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertReviewRequest(ctx, req); err != nil {
		return err
	}

	return r.snapshotOpenRequests(ctx, ev.RepoID)
}

// requestFiles resolves the changed-file set for a review-request event:
// the event's own list when present, else a platform fetch, else whatever
// is already stored for that request number.
func (r *Runner) requestFiles(ctx context.Context, ev ReviewRequestEvent) ([]string, error) {
	if len(ev.Files) > 0 {
		return ev.Files, nil
	}

	if r.hosting != nil && strings.ToLower(ev.State) == "open" {
		repo, err := r.store.GetRepository(ctx, ev.RepoID)
		if err != nil {
			return nil, err
		}
		files, err := r.hosting.FetchRequestFiles(ctx, repo.Owner, repo.Name, ev.Number)
		if err == nil {
			return files, nil
		}
		r.logger.Warn("review request file fetch failed, keeping stored set",
			"repo", ev.RepoID, "request", ev.Number, "error", err)
	}

	open, err := r.store.ListOpenReviewRequests(ctx, ev.RepoID)
	if err != nil {
		return nil, err
	}
	for _, existing := range open {
		if existing.Number == ev.Number {
			return existing.Files, nil
		}
	}
	return nil, nil
}

// RefreshReviewRequests pulls the open set from the hosting platform and
// replaces both the stored rows and the local snapshot.
func (r *Runner) RefreshReviewRequests(ctx context.Context, repo *models.Repository) error {
	if r.hosting == nil {
		return nil
	}

	requests, err := r.hosting.FetchOpenReviewRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}
	for i := range requests {
		if err := r.store.UpsertReviewRequest(ctx, &requests[i]); err != nil {
			return err
		}
	}

	return r.snapshotOpenRequests(ctx, repo.ID)
}

func (r *Runner) snapshotOpenRequests(ctx context.Context, repoID string) error {
	if r.reviews == nil {
		return nil
	}
	open, err := r.store.ListOpenReviewRequests(ctx, repoID)
	if err != nil {
		return err
	}
	return r.reviews.Put(repoID, open, time.Now().UTC())
}
