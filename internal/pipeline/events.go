package pipeline

import (
	"encoding/json"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
)

// Queue item kinds. The set is closed: anything else is a consistency
// failure at the queue boundary, not a dispatch-time surprise.
const (
	KindPush          = "push"
	KindReviewRequest = "review_request"
)

// Event is one decoded queue payload.
type Event interface {
	EventRepoID() string
}

// PushEvent signals new commits on a branch.
type PushEvent struct {
	RepoID  string   `json:"repo_id"`
	Branch  string   `json:"branch"`
	HeadSHA string   `json:"head_sha"`
	Paths   []string `json:"paths"`
}

func (e PushEvent) EventRepoID() string { return e.RepoID }

// ReviewRequestEvent signals an opened, updated, or closed review request.
type ReviewRequestEvent struct {
	RepoID  string   `json:"repo_id"`
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Author  string   `json:"author"`
	State   string   `json:"state"`
	HeadSHA string   `json:"head_sha"`
	Files   []string `json:"files"`
}

func (e ReviewRequestEvent) EventRepoID() string { return e.RepoID }

// Decode turns a queue item into its typed event. Decoding happens exactly
// once, here; handlers receive typed events and never see raw payloads.
func Decode(item *models.QueueItem) (Event, error) {
	switch item.Kind {
	case KindPush:
		var ev PushEvent
		if err := json.Unmarshal(item.Payload, &ev); err != nil {
			return nil, pkgerrors.Consistency("malformed push payload for item %s: %v", item.ID, err)
		}
		if ev.RepoID == "" {
			ev.RepoID = item.RepoID
		}
		return ev, nil
	case KindReviewRequest:
		var ev ReviewRequestEvent
		if err := json.Unmarshal(item.Payload, &ev); err != nil {
			return nil, pkgerrors.Consistency("malformed review request payload for item %s: %v", item.ID, err)
		}
		if ev.RepoID == "" {
			ev.RepoID = item.RepoID
		}
		return ev, nil
	default:
		return nil, pkgerrors.Consistency("unknown queue item kind %q for item %s", item.Kind, item.ID)
	}
}
