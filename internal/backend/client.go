// Package backend is the HTTP client for the portal API consumed by the
// session engine.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func New(cfg Config) *Client {
	h := &http.Client{Timeout: cfg.Timeout}
	return &Client{http: h, baseURL: strings.TrimRight(cfg.BaseURL, "/")}
}

// WithToken returns a copy of the client that authenticates as the student.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Assessment fetches assessment metadata.
func (c *Client) Assessment(ctx context.Context, assessmentID string) (*model.Assessment, error) {
	var a model.Assessment
	if err := c.doJSON(ctx, "get assessment", http.MethodGet, "/assessments/"+url.PathEscape(assessmentID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Content fetches the raw question-content document. ref is either an
// absolute URL or a path relative to the API base.
func (c *Client) Content(ctx context.Context, ref string) ([]byte, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(ref, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, &StatusError{Op: "get content", Status: res.StatusCode}
	}
	return io.ReadAll(res.Body)
}

// RequestUploadTargets negotiates upload destinations for the metadata
// document and each listed speaking question.
func (c *Client) RequestUploadTargets(ctx context.Context, assessmentID, studentID string, questionIDs []string) (*model.UploadTargets, error) {
	if questionIDs == nil {
		questionIDs = []string{}
	}
	body := map[string]any{
		"assessment_id": assessmentID,
		"student_id":    studentID,
		"question_ids":  questionIDs,
	}
	var t model.UploadTargets
	if err := c.doJSON(ctx, "upload targets", http.MethodPost, "/submissions/upload-targets", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Upload PUTs a payload to a pre-authorized target.
func (c *Client) Upload(ctx context.Context, target model.UploadTarget, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if target.ContentType != "" {
		req.Header.Set("Content-Type", target.ContentType)
	}
	// Upload targets are pre-signed; the bearer token stays with the API.
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode/100 != 2 {
		return &StatusError{Op: "upload", Status: res.StatusCode}
	}
	return nil
}

// Finalize records the uploaded submission as an attempt.
func (c *Client) Finalize(ctx context.Context, assessmentID, studentID, metadataRef string) error {
	body := map[string]any{
		"assessment_id":              assessmentID,
		"student_id":                 studentID,
		"metadata_storage_reference": metadataRef,
	}
	return c.doJSON(ctx, "finalize", http.MethodPost, "/submissions/finalize", body, nil)
}

// SubmitAnswers submits a whole attempt in one call.
func (c *Client) SubmitAnswers(ctx context.Context, assessmentID, studentID string, doc model.SubmissionDocument) error {
	body := map[string]any{
		"assessment_id": assessmentID,
		"student_id":    studentID,
		"answers":       doc.Answers,
		"submitted_at":  doc.SubmittedAt,
		"forced":        doc.Forced,
	}
	return c.doJSON(ctx, "submit answers", http.MethodPost, "/submissions/answers", body, nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return &StatusError{Op: op, Status: res.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}
