// Package webhook receives hosting-platform events, validates their
// signatures, and turns them into durable queue items. Ingress does no
// analysis work itself; everything downstream happens off the queue.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/codepulse/codepulse-go/internal/pipeline"
	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
)

// Enqueuer is the slice of storage the ingress needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *models.QueueItem) error
}

// Server is the webhook ingress.
type Server struct {
	queue  Enqueuer
	secret []byte
	logger *slog.Logger
}

// NewServer creates the ingress. The secret validates the
// X-Hub-Signature-256 header on every delivery.
func NewServer(queue Enqueuer, secret string) *Server {
	return &Server{
		queue:  queue,
		secret: []byte(secret),
		logger: logging.Component("webhook"),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleDelivery)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type enqueueResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		s.logger.Warn("rejected delivery with invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	item, ok := s.translate(event)
	if !ok {
		// Deliveries outside the handled set are acknowledged and dropped.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.queue.Enqueue(r.Context(), item); err != nil {
		s.logger.Error("enqueue failed", "kind", item.Kind, "repo", item.RepoID, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("delivery enqueued", "kind", item.Kind, "repo", item.RepoID, "item", item.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(enqueueResponse{ID: item.ID})
}

// translate maps a parsed platform event onto a queue item. Only pushes
// and pull request updates produce work.
func (s *Server) translate(event any) (*models.QueueItem, bool) {
	switch e := event.(type) {
	case *github.PushEvent:
		// Deletions count as changes too: removing a file an open request
		// edits is a structural conflict.
		paths := make(map[string]bool)
		for _, c := range e.Commits {
			for _, p := range c.Added {
				paths[p] = true
			}
			for _, p := range c.Modified {
				paths[p] = true
			}
			for _, p := range c.Removed {
				paths[p] = true
			}
		}
		ev := pipeline.PushEvent{
			RepoID:  e.GetRepo().GetFullName(),
			Branch:  strings.TrimPrefix(e.GetRef(), "refs/heads/"),
			HeadSHA: e.GetAfter(),
			Paths:   sortedKeys(paths),
		}
		return s.newItem(ev.RepoID, pipeline.KindPush, ev), true

	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		ev := pipeline.ReviewRequestEvent{
			RepoID:  e.GetRepo().GetFullName(),
			Number:  pr.GetNumber(),
			Title:   pr.GetTitle(),
			Author:  pr.GetUser().GetLogin(),
			State:   pr.GetState(),
			HeadSHA: pr.GetHead().GetSHA(),
		}
		return s.newItem(ev.RepoID, pipeline.KindReviewRequest, ev), true

	default:
		return nil, false
	}
}

func (s *Server) newItem(repoID, kind string, event any) *models.QueueItem {
	payload, err := json.Marshal(event)
	if err != nil {
		// Marshalling our own structs cannot fail at runtime.
		panic(err)
	}
	now := time.Now().UTC()
	return &models.QueueItem{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		Kind:      kind,
		Payload:   payload,
		Status:    models.QueueStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// sortedKeys keeps payloads stable for identical pushes.
func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
