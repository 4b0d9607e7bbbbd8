// Package api implements the REST client for the remote builder service.
// All operations hang off a fixed base path (default /api/builder); the
// server side is an external collaborator and only its contract matters here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	berrors "github.com/liquidcrypto/liquidos-builder/internal/errors"
	"github.com/liquidcrypto/liquidos-builder/internal/requestid"
)

const service = "builder"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the builder backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewClient creates a new builder API client. token may be empty; when set
// it is sent as a bearer token on every request.
func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "builder_api").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// SetTimeout replaces the default request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if hc, ok := c.httpClient.(*http.Client); ok {
		hc.Timeout = d
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateBuildRequest is the body for build creation.
type CreateBuildRequest struct {
	Description         string `json:"description"`
	AppID               string `json:"appId,omitempty"`
	Category            string `json:"category,omitempty"`
	HasAgent            bool   `json:"hasAgent,omitempty"`
	HasResources        bool   `json:"hasResources,omitempty"`
	HasCustomComponents bool   `json:"hasCustomComponents,omitempty"`
	ResearchMode        string `json:"researchMode,omitempty"`
	BuildMode           string `json:"buildMode,omitempty"`
}

// CreateBuild registers a new build and returns the full server record.
// Server-side execution does not start until ExecuteBuild is called.
func (c *Client) CreateBuild(ctx context.Context, req CreateBuildRequest) (builder.BuildRecord, error) {
	var rec builder.BuildRecord
	resp, err := c.do(ctx, http.MethodPost, "/builds/create", req)
	if err != nil {
		return rec, err
	}
	if err := decodeResponse(resp, &rec); err != nil {
		return rec, err
	}
	rec.Progress.Clamp()
	return rec, nil
}

// ExecuteBuild kicks off server-side work for a created build.
func (c *Client) ExecuteBuild(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/builds/"+url.PathEscape(id)+"/execute", nil)
	if err != nil {
		return err
	}
	return discard(resp)
}

// approveRequest carries the (optionally edited) plan back to the server.
type approveRequest struct {
	Stories []builder.UserStory `json:"stories,omitempty"`
}

// ApproveBuild approves a plan awaiting review. stories may be nil to
// approve the server's plan unchanged.
func (c *Client) ApproveBuild(ctx context.Context, id string, stories []builder.UserStory) (builder.BuildUpdate, error) {
	var upd builder.BuildUpdate
	resp, err := c.do(ctx, http.MethodPost, "/builds/"+url.PathEscape(id)+"/approve", approveRequest{Stories: stories})
	if err != nil {
		return upd, err
	}
	err = decodeResponse(resp, &upd)
	return upd, err
}

// ResumeBuild resumes a paused or interrupted build.
func (c *Client) ResumeBuild(ctx context.Context, id string) (builder.BuildUpdate, error) {
	var upd builder.BuildUpdate
	resp, err := c.do(ctx, http.MethodPost, "/builds/"+url.PathEscape(id)+"/resume", nil)
	if err != nil {
		return upd, err
	}
	err = decodeResponse(resp, &upd)
	return upd, err
}

// CancelBuild asks the server to stop a build. Callers apply the local
// failed override regardless of the outcome here.
func (c *Client) CancelBuild(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/builds/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return err
	}
	return discard(resp)
}

// InstallBuild installs generated files into the target app. The dev server
// is expected to pick up new files on its own; no confirmation is returned.
func (c *Client) InstallBuild(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/builds/"+url.PathEscape(id)+"/install", nil)
	if err != nil {
		return err
	}
	return discard(resp)
}

// BuildStatus fetches the current server-side state of a build.
func (c *Client) BuildStatus(ctx context.Context, id string) (builder.BuildUpdate, error) {
	var upd builder.BuildUpdate
	resp, err := c.do(ctx, http.MethodGet, "/builds/"+url.PathEscape(id)+"/status", nil)
	if err != nil {
		return upd, err
	}
	err = decodeResponse(resp, &upd)
	return upd, err
}

// BuildHistory fetches every build known to the server.
func (c *Client) BuildHistory(ctx context.Context) ([]builder.BuildRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "/builds/history", nil)
	if err != nil {
		return nil, err
	}
	var records []builder.BuildRecord
	if err := decodeResponse(resp, &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Progress.Clamp()
	}
	return records, nil
}

// DeleteBuild removes a build server-side.
func (c *Client) DeleteBuild(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/builds/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return discard(resp)
}

// editRequest asks for an edit build against an existing app.
type editRequest struct {
	Description string `json:"description"`
}

// RequestEdit submits an edit request for an existing app and returns the
// resulting build's initial state.
func (c *Client) RequestEdit(ctx context.Context, appID, description string) (builder.BuildUpdate, error) {
	var upd builder.BuildUpdate
	resp, err := c.do(ctx, http.MethodPost, "/apps/"+url.PathEscape(appID)+"/edit", editRequest{Description: description})
	if err != nil {
		return upd, err
	}
	err = decodeResponse(resp, &upd)
	return upd, err
}

type contextListResponse struct {
	Files []builder.ContextFile `json:"files"`
}

// ListContextFiles lists uploaded context files for an app.
func (c *Client) ListContextFiles(ctx context.Context, appID string) ([]builder.ContextFile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/context/"+url.PathEscape(appID), nil)
	if err != nil {
		return nil, err
	}
	var out contextListResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// UploadContextFile uploads a context file as multipart form data.
func (c *Client) UploadContextFile(ctx context.Context, appID, name string, r io.Reader) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/context/"+url.PathEscape(appID)+"/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	return discard(resp)
}

// DeleteContextFile removes an uploaded context file by name.
func (c *Client) DeleteContextFile(ctx context.Context, appID, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/context/"+url.PathEscape(appID)+"/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	return discard(resp)
}

// do executes a JSON API request.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestid.Header, requestid.FromContext(ctx))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, berrors.NewAPIError(service, resp.StatusCode, msg)
	}

	return resp, nil
}

// decodeResponse reads and decodes a JSON response body.
func decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// discard drains and closes a response body whose content is ignored.
func discard(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
