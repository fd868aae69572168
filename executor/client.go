// Package executor talks to the external batch-compute service: job
// submission over its HTTP API and the completion event stream over
// WebSocket.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxhall/scribeq/errors"
	"github.com/voxhall/scribeq/sched"
)

const defaultSubmitTimeout = 30 * time.Second

// Client submits jobs to the batch executor's HTTP API. Implements
// sched.BatchExecutor.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

// NewClient creates a batch executor client. timeout of 0 uses the
// default submit timeout.
func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// submitResponse is the executor's reply to a successful submission.
type submitResponse struct {
	Handle string `json:"handle"`
}

// errorResponse is the executor's reply body on a rejected submission.
type errorResponse struct {
	Error string `json:"error"`
}

// Submit posts one job submission and returns the executor's handle
// for it. Any non-2xx reply is a synchronous submission failure.
func (c *Client) Submit(ctx context.Context, sub sched.Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode submission")
	}

	url := c.baseURL + "/v1/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build submit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "batch executor unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Newf("batch executor rejected submission: %s", readErrorBody(resp))
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "failed to decode submit response")
	}
	if result.Handle == "" {
		return "", errors.New("batch executor returned an empty handle")
	}

	c.log.Debugw("Batch executor accepted submission",
		"handle", result.Handle,
		"image", sub.Image)
	return result.Handle, nil
}

// readErrorBody extracts a diagnostic from a failed submit reply,
// falling back to the HTTP status when the body is not the expected
// JSON shape.
func readErrorBody(resp *http.Response) string {
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var body errorResponse
		if json.Unmarshal(payload, &body) == nil && body.Error != "" {
			return resp.Status + ": " + body.Error
		}
	}
	return resp.Status
}
