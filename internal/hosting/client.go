package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"
)

// statusContext names the commit status line this service publishes.
const statusContext = "codepulse/conflict-risk"

// Client wraps the GitHub API client with rate limiting
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a new GitHub client with rate limiting
func NewClient(token string, rateLimit int) *Client {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Client{
		client:      github.NewClient(nil).WithAuthToken(token),
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:      logging.Component("hosting"),
	}
}

// FetchOpenReviewRequests lists open pull requests with their changed-file
// sets. File listings are paged per request; a failure on one request skips
// that request rather than aborting the listing.
func (c *Client) FetchOpenReviewRequests(ctx context.Context, owner, name string) ([]models.ReviewRequest, error) {
	repoID := fmt.Sprintf("%s/%s", owner, name)
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var requests []models.ReviewRequest
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		prs, resp, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyAPIError("list pull requests", resp, err)
		}

		for _, pr := range prs {
			files, err := c.FetchRequestFiles(ctx, owner, name, pr.GetNumber())
			if err != nil {
				c.logger.Warn("skipping review request with unreadable file list",
					"repo", repoID, "number", pr.GetNumber(), "error", err)
				continue
			}
			requests = append(requests, models.ReviewRequest{
				RepoID:    repoID,
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				Author:    pr.GetUser().GetLogin(),
				State:     pr.GetState(),
				HeadSHA:   pr.GetHead().GetSHA(),
				Files:     files,
				UpdatedAt: pr.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return requests, nil
}

// FetchRequestFiles lists the changed-file paths of one pull request.
// Review-request webhook payloads omit the file list, so event handling
// pulls it through here.
func (c *Client) FetchRequestFiles(ctx context.Context, owner, name string, number int) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}

	var files []string
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		changed, resp, err := c.client.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyAPIError("list pull request files", resp, err)
		}
		for _, f := range changed {
			files = append(files, f.GetFilename())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// PublishConflictStatus writes the assessment outcome as a commit status on
// the pushed head. A risk at or above the blocking threshold surfaces as a
// failure state so branch protection can hold the merge.
func (c *Client) PublishConflictStatus(ctx context.Context, owner, name, sha string, assessment *models.ConflictAssessment, block bool) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	state := "success"
	description := fmt.Sprintf("conflict risk %.2f", assessment.RiskScore)
	if block {
		state = "failure"
		description = fmt.Sprintf("conflict risk %.2f exceeds threshold", assessment.RiskScore)
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(statusContext),
		Description: github.String(description),
	}
	_, resp, err := c.client.Repositories.CreateStatus(ctx, owner, name, sha, status)
	if err != nil {
		return classifyAPIError("create commit status", resp, err)
	}

	c.logger.Info("published conflict status",
		"repo", owner+"/"+name, "sha", sha, "state", state, "risk", assessment.RiskScore)
	return nil
}

// ResolveAuthorEmail maps a commit SHA to its author's email via the API.
// Used when local history lacks the commit, e.g. for review request heads.
func (c *Client) ResolveAuthorEmail(ctx context.Context, owner, name, sha string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	commit, resp, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return "", classifyAPIError("get commit", resp, err)
	}

	email := commit.GetCommit().GetAuthor().GetEmail()
	return strings.ToLower(email), nil
}

func classifyAPIError(op string, resp *github.Response, err error) error {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return pkgerrors.NotFound("%s: %v", op, err)
		case resp.StatusCode == http.StatusForbidden && resp.Rate.Remaining == 0:
			return pkgerrors.Transient(op+": rate limited until "+resp.Rate.Reset.Format(time.RFC3339), err)
		case resp.StatusCode >= 500:
			return pkgerrors.Transient(op, err)
		}
	}
	return pkgerrors.Transient(op, err)
}
