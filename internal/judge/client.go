// Package judge wraps the external code-execution service. Callers submit a
// unit of work and get back an opaque token; the verdict for a token is
// fetched separately. All guessing about the judge's response shape lives
// here; callers only ever see the normalized Result type.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Judge status ids. 1 and 2 are non-terminal; 3 is accepted; 6 is a
// compilation error; anything else >= 5 is some runtime/other error.
const (
	StatusInQueue          = 1
	StatusProcessing       = 2
	StatusAccepted         = 3
	StatusCompilationError = 6
)

type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Terminal reports whether the judge has finished with this unit of work.
func (s Status) Terminal() bool {
	return s.ID != StatusInQueue && s.ID != StatusProcessing
}

// Result is the normalized verdict for one token.
type Result struct {
	Status        Status          `json:"status"`
	Stdout        string          `json:"stdout"`
	Stderr        string          `json:"stderr"`
	CompileOutput string          `json:"compile_output,omitempty"`
	Time          string          `json:"time,omitempty"`
	Memory        int             `json:"memory,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// SubmitError wraps a failed submission request to the judge.
type SubmitError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge submit failed: %v", e.Err)
	}
	return fmt.Sprintf("judge submit failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ResultError wraps a failed verdict fetch.
type ResultError struct {
	Token      string
	StatusCode int
	Body       string
	Err        error
}

func (e *ResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge result fetch failed for token %s: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("judge result fetch failed for token %s: status %d: %s", e.Token, e.StatusCode, e.Body)
}

func (e *ResultError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL        string
	AuthHeaderName string
	AuthKey        string
	Timeout        time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Submit sends one unit of work and returns the judge's token. An empty
// token with a nil error means the judge accepted the work but returned no
// recognizable token field.
func (c *Client) Submit(ctx context.Context, sourceCode string, languageID int, stdin string) (string, error) {
	body := map[string]interface{}{
		"source_code": sourceCode,
		"language_id": languageID,
	}
	if stdin != "" {
		body["stdin"] = stdin
	}
	return c.postSubmission(ctx, body)
}

// SubmitWithTestCase is Submit plus an expected output and a per-test-case
// time limit. The wall-clock limit is padded so the judge does not kill a
// run that is merely close to its CPU limit.
func (c *Client) SubmitWithTestCase(ctx context.Context, sourceCode string, languageID int, input, expectedOutput string, timeLimitSec float64) (string, error) {
	body := map[string]interface{}{
		"source_code":     sourceCode,
		"language_id":     languageID,
		"stdin":           input,
		"expected_output": expectedOutput,
		"cpu_time_limit":  timeLimitSec,
		"wall_time_limit": timeLimitSec + 2,
	}
	return c.postSubmission(ctx, body)
}

func (c *Client) postSubmission(ctx context.Context, body map[string]interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &SubmitError{Err: err}
	}

	url := c.cfg.BaseURL + "/submissions?base64_encoded=false&wait=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmitError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return "", &SubmitError{StatusCode: resp.StatusCode, Body: string(respBody), Err: err}
	}
	return extractToken(raw), nil
}

// extractToken tries the field names different judge deployments use. A
// missing token is not an error; the caller decides how to handle it.
func extractToken(raw map[string]json.RawMessage) string {
	for _, field := range []string{"token", "id", "submission_id"} {
		v, ok := raw[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return ""
}

// GetResult fetches and normalizes the verdict for a token.
func (c *Client) GetResult(ctx context.Context, token string) (*Result, error) {
	url := c.cfg.BaseURL + "/submissions/" + token + "?base64_encoded=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ResultError{Token: token, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ResultError{Token: token, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResultError{Token: token, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return decodeResult(respBody, token)
}

// decodeResult flattens the judge's heterogeneous response shapes into one
// Result. Some deployments nest the status object, some return a flat
// status_id; time may arrive as a string or a number.
func decodeResult(respBody []byte, token string) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &ResultError{Token: token, Body: string(respBody), Err: err}
	}

	res := &Result{Raw: respBody}

	if v, ok := raw["status"]; ok {
		var st Status
		if err := json.Unmarshal(v, &st); err != nil {
			// Some judges return status as a bare id.
			var id int
			if err2 := json.Unmarshal(v, &id); err2 == nil {
				st = Status{ID: id}
			}
		}
		res.Status = st
	} else if v, ok := raw["status_id"]; ok {
		var id int
		if err := json.Unmarshal(v, &id); err == nil {
			res.Status = Status{ID: id}
		}
	}

	res.Stdout = stringField(raw, "stdout")
	res.Stderr = stringField(raw, "stderr")
	res.CompileOutput = stringField(raw, "compile_output")
	res.Time = numericStringField(raw, "time")
	res.Memory = intField(raw, "memory")

	return res, nil
}

func stringField(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	var s *string
	if err := json.Unmarshal(v, &s); err != nil || s == nil {
		return ""
	}
	return *s
}

func numericStringField(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func intField(raw map[string]json.RawMessage, field string) int {
	v, ok := raw[field]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0
	}
	return int(f)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthHeaderName != "" && c.cfg.AuthKey != "" {
		req.Header.Set(c.cfg.AuthHeaderName, c.cfg.AuthKey)
	}
}
