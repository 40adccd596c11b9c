// Package parser is the client for the external source-code parser service,
// consumed as a black box.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
)

// Function is one function-level chunk of a parsed file.
type Function struct {
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Body      string `json:"body"`
}

// Result is the parser service response for one file.
type Result struct {
	Functions []Function `json:"functions"`
	Imports   []string   `json:"imports"`
}

// Service parses source code into function chunks and import statements.
type Service interface {
	Parse(ctx context.Context, code, language string) (*Result, error)
}

// Client talks to the parser service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a parser client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type parseRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Parse submits one file. An unsupported language yields an empty result.
// A 4xx response means the input itself was rejected (malformed or
// oversized); that aborts only this file's contribution. 5xx and transport
// failures are transient.
func (c *Client) Parse(ctx context.Context, code, language string) (*Result, error) {
	if language == "" {
		return &Result{}, nil
	}

	body, err := json.Marshal(parseRequest{Code: code, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Transient("parser service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Unsupported language: contract says empty result, not error.
		return &Result{}, nil
	case resp.StatusCode >= 500:
		return nil, pkgerrors.Transient(fmt.Sprintf("parser service returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, pkgerrors.NotFound("parser rejected input with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, pkgerrors.Transient("read parser response", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode parser response: %w", err)
	}
	return &result, nil
}
