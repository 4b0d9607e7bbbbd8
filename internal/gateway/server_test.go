package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
	"github.com/liquidcrypto/liquidos-builder/internal/health"
	"github.com/liquidcrypto/liquidos-builder/internal/metrics"
	"github.com/liquidcrypto/liquidos-builder/internal/session"
)

// stubBackend is a minimal BackendClient for wiring a store under test.
type stubBackend struct {
	mu      sync.Mutex
	created builder.BuildRecord
	history []builder.BuildRecord
}

func (s *stubBackend) CreateBuild(_ context.Context, req api.CreateBuildRequest) (builder.BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.created
	if rec.ID == "" {
		rec.ID = "b-gen"
	}
	rec.Description = req.Description
	return rec, nil
}

func (s *stubBackend) ExecuteBuild(context.Context, string) error { return nil }

func (s *stubBackend) ApproveBuild(context.Context, string, []builder.UserStory) (builder.BuildUpdate, error) {
	p := builder.PhaseScaffolding
	return builder.BuildUpdate{Phase: &p}, nil
}

func (s *stubBackend) ResumeBuild(context.Context, string) (builder.BuildUpdate, error) {
	return builder.BuildUpdate{}, nil
}

func (s *stubBackend) CancelBuild(context.Context, string) error  { return nil }
func (s *stubBackend) InstallBuild(context.Context, string) error { return nil }

func (s *stubBackend) BuildStatus(context.Context, string) (builder.BuildUpdate, error) {
	return builder.BuildUpdate{}, nil
}

func (s *stubBackend) BuildHistory(context.Context) ([]builder.BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *stubBackend) DeleteBuild(context.Context, string) error { return nil }

func (s *stubBackend) RequestEdit(context.Context, string, string) (builder.BuildUpdate, error) {
	return builder.BuildUpdate{ID: "b-edit"}, nil
}

// stubFiles is an in-memory ContextFileClient.
type stubFiles struct {
	mu    sync.Mutex
	files map[string][]builder.ContextFile
}

func newStubFiles() *stubFiles {
	return &stubFiles{files: make(map[string][]builder.ContextFile)}
}

func (s *stubFiles) ListContextFiles(_ context.Context, appID string) ([]builder.ContextFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[appID], nil
}

func (s *stubFiles) UploadContextFile(_ context.Context, appID, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[appID] = append(s.files[appID], builder.ContextFile{Name: name, Size: int64(len(data))})
	return nil
}

func (s *stubFiles) DeleteContextFile(_ context.Context, appID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.files[appID][:0]
	for _, f := range s.files[appID] {
		if f.Name != name {
			kept = append(kept, f)
		}
	}
	s.files[appID] = kept
	return nil
}

type testEnv struct {
	app     *fiber.App
	store   *session.Store
	backend *stubBackend
	files   *stubFiles
}

func newTestEnv(t *testing.T, authMode, apiKey string) *testEnv {
	t.Helper()
	backend := &stubBackend{}
	files := newStubFiles()
	store := session.NewStore(backend, zerolog.Nop())

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("backend", func(context.Context) health.Status { return health.StatusOK })

	srv := NewServer(ServerConfig{
		AuthConfig: AuthConfig{Mode: authMode, APIKey: apiKey},
	}, store, files, checker, metrics.New(), zerolog.Nop())

	return &testEnv{app: srv.App(), store: store, backend: backend, files: files}
}

func (e *testEnv) seed(t *testing.T, rec builder.BuildRecord) {
	t.Helper()
	e.backend.mu.Lock()
	e.backend.history = []builder.BuildRecord{rec}
	e.backend.mu.Unlock()
	require.NoError(t, e.store.LoadHistory(context.Background()))
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestListBuilds(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseImplementing})

	resp := doJSON(t, env.app, "GET", "/api/v1/builds", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list BuildListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "b-1", list.Builds[0].ID)
}

func TestGetBuild_NotFound(t *testing.T) {
	env := newTestEnv(t, "none", "")

	resp := doJSON(t, env.app, "GET", "/api/v1/builds/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "build_not_found", problem.Type)
}

func TestSubmitBuild(t *testing.T) {
	env := newTestEnv(t, "none", "")

	resp := doJSON(t, env.app, "POST", "/api/v1/builds", `{"description":"a todo app"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var br BuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
	assert.Equal(t, "b-gen", br.Build.ID)
	assert.Equal(t, "a todo app", br.Build.Description)
	assert.Equal(t, "b-gen", env.store.ActiveID())
}

func TestSubmitBuild_MissingDescription(t *testing.T) {
	env := newTestEnv(t, "none", "")

	resp := doJSON(t, env.app, "POST", "/api/v1/builds", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelBuild(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseImplementing})

	resp := doJSON(t, env.app, "POST", "/api/v1/builds/b-1/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var br BuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
	assert.Equal(t, builder.PhaseFailed, br.Build.Phase)
	assert.Equal(t, "Cancelled", br.Build.Error)
}

func TestApproveBuild(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseAwaitingReview})

	resp := doJSON(t, env.app, "POST", "/api/v1/builds/b-1/approve", `{"stories":[{"id":"US-001","title":"Login"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var br BuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
	assert.Equal(t, builder.PhaseScaffolding, br.Build.Phase)
}

func TestGetPlan(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{
		ID:    "b-1",
		Phase: builder.PhaseAwaitingReview,
		Plan: &builder.Plan{
			PRD: builder.PRD{UserStories: []builder.UserStory{
				{ID: "US-001", Title: "Plan trips"},
				{ID: "US-002", Title: "[internal] Wire scheduler"},
			}},
		},
	})

	resp := doJSON(t, env.app, "GET", "/api/v1/builds/b-1/plan", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pr PlanReviewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	require.Len(t, pr.Feature, 1)
	require.Len(t, pr.Implementation, 1)
	assert.Equal(t, "Plan trips", pr.Feature[0].Title)
	assert.Equal(t, "Wire scheduler", pr.Implementation[0].Title)
	assert.Equal(t, "US-003", pr.NextID)
}

func TestGetPlan_NotReady(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhasePlanning})

	resp := doJSON(t, env.app, "GET", "/api/v1/builds/b-1/plan", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "plan_not_ready", problem.Type)
}

func TestRequestEdit(t *testing.T) {
	env := newTestEnv(t, "none", "")

	resp := doJSON(t, env.app, "POST", "/api/v1/edits", `{"appId":"travel","description":"add dark mode"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var br BuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
	assert.Equal(t, "b-edit", br.Build.ID)
	assert.Equal(t, "travel", br.Build.AppID)
}

func TestActiveSelection(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseComplete})

	resp := doJSON(t, env.app, "PUT", "/api/v1/active", `{"id":"b-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, env.app, "GET", "/api/v1/active", "")
	var br BuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
	assert.Equal(t, "b-1", br.Build.ID)
}

func TestContextFiles(t *testing.T) {
	env := newTestEnv(t, "none", "")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("remember the tone"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest("POST", "/api/v1/apps/travel/context", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, env.app, "GET", "/api/v1/apps/travel/context", "")
	var list ContextListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Files, 1)
	assert.Equal(t, "notes.md", list.Files[0].Name)

	resp = doJSON(t, env.app, "DELETE", "/api/v1/apps/travel/context/notes.md", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteBuild(t *testing.T) {
	env := newTestEnv(t, "none", "")
	env.seed(t, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseComplete})

	resp := doJSON(t, env.app, "DELETE", "/api/v1/builds/b-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.store.Builds())
}

func TestHealthDetail(t *testing.T) {
	env := newTestEnv(t, "none", "")

	resp := doJSON(t, env.app, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var hd HealthDetailResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hd))
	assert.Equal(t, "ok", hd.Status)
	assert.Equal(t, "ok", hd.Checks["backend"])
	assert.NotEmpty(t, hd.Uptime)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "api-key", "secret")

	resp := doJSON(t, env.app, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "builder_active_pollers")
}

func TestRateLimit(t *testing.T) {
	backend := &stubBackend{}
	store := session.NewStore(backend, zerolog.Nop())
	srv := NewServer(ServerConfig{
		AuthConfig: AuthConfig{Mode: "none"},
		RateLimit:  RateLimitConfig{RPS: 1, Burst: 2},
	}, store, newStubFiles(), nil, nil, zerolog.Nop())

	var last int
	for i := 0; i < 5; i++ {
		resp := doJSON(t, srv.App(), "GET", "/api/v1/builds", "")
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Probes are never throttled.
	resp := doJSON(t, srv.App(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
