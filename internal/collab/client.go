// Package collab is the HTTP client for the remote answer service.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ir-chat/internal/answer"

	"golang.org/x/time/rate"
)

const (
	queryPath    = "/query"
	uploadPath   = "/upload_questions/"
	chatLogsPath = "/download_chat_logs"

	apiKeyHeader = "x-api-key"

	maxErrorBody = 64 << 10
)

// ErrMalformedResponse is returned when a 2xx body is not one of the legal
// response shapes.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// ServerMessage extracts the "error" field of a JSON error body. ok is false
// when the body is not JSON or the field is missing; decodeErr is set when the
// body claims to be JSON but cannot be parsed.
func (e *StatusError) ServerMessage() (msg string, ok bool, decodeErr error) {
	if !isJSON(e.ContentType) {
		return "", false, nil
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(body.Error) == "" {
		return "", false, nil
	}
	return body.Error, true, nil
}

type Config struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		// Per-exchange deadlines come from the caller's context.
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		httpClient: hc,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type QueryRequest struct {
	Query   string   `json:"query"`
	History []string `json:"history"`
	Email   string   `json:"email,omitempty"`
}

// Query posts one question and decodes the answer body.
func (c *Client) Query(ctx context.Context, req QueryRequest) (answer.Response, error) {
	if req.History == nil {
		req.History = []string{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return answer.Response{}, fmt.Errorf("encode query: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, queryPath, bytes.NewReader(payload))
	if err != nil {
		return answer.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, _, err := c.do(httpReq)
	if err != nil {
		return answer.Response{}, err
	}

	resp, err := answer.DecodeResponse(body)
	if err != nil {
		return answer.Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp, nil
}

// UploadResult holds either a rendered document or a decoded question batch.
type UploadResult struct {
	Document    []byte
	ContentType string
	Batch       *answer.Batch
}

// UploadQuestions sends a question document as multipart form data.
func (c *Client) UploadQuestions(ctx context.Context, filename string, file io.Reader, email string) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return UploadResult{}, fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.WriteField("email", email); err != nil {
		return UploadResult{}, fmt.Errorf("write email field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, uploadPath, &buf)
	if err != nil {
		return UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	body, contentType, err := c.do(httpReq)
	if err != nil {
		return UploadResult{}, err
	}

	if isJSON(contentType) {
		var batch answer.Batch
		if err := json.Unmarshal(body, &batch); err != nil {
			return UploadResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return UploadResult{ContentType: contentType, Batch: &batch}, nil
	}
	return UploadResult{Document: body, ContentType: contentType}, nil
}

// DownloadChatLogs fetches the spreadsheet export of historical exchanges.
func (c *Client) DownloadChatLogs(ctx context.Context) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, chatLogsPath, nil)
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, string, error) {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, contentType, &StatusError{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Body:        body,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, contentType, fmt.Errorf("read %s body after %s: %w", req.URL.Path, time.Since(started).Round(time.Millisecond), err)
	}
	return body, contentType, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
