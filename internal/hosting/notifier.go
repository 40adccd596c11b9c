package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
)

// Notifier delivers conflict warnings to the contributors involved.
// Delivery is best-effort; a failed notification never fails the
// assessment that produced it.
type Notifier interface {
	NotifyConflict(ctx context.Context, repoID, headSHA string, risk models.RequestRisk) error
}

// ChannelNotifier posts conflict warnings to a messaging channel webhook.
type ChannelNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewChannelNotifier creates a notifier for the given channel URL.
// An empty URL yields a no-op notifier.
func NewChannelNotifier(url string) *ChannelNotifier {
	return &ChannelNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.Component("notifier"),
	}
}

type conflictMessage struct {
	Text string `json:"text"`
}

func (n *ChannelNotifier) NotifyConflict(ctx context.Context, repoID, headSHA string, risk models.RequestRisk) error {
	if n.url == "" {
		return nil
	}

	msg := conflictMessage{
		Text: fmt.Sprintf(
			"%s: push %s overlaps review request #%d (risk %.2f, files: %d overlapping)",
			repoID, shortSHA(headSHA), risk.Number, risk.Risk, len(risk.OverlappingFiles)),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return pkgerrors.Transient("deliver notification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return pkgerrors.Transient(fmt.Sprintf("deliver notification: status %d", resp.StatusCode), nil)
	}

	n.logger.Info("delivered conflict notification",
		"repo", repoID, "request", risk.Number, "risk", risk.Risk)
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
