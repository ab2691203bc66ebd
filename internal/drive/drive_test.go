package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedDrive = "0AFluoShared"

// fakeDrive answers files.list in two pages for the "good" token and 401 for
// anything else.
type fakeDrive struct {
	*httptest.Server

	mu      sync.Mutex
	queries []url.Values
	status  int
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()
	f := &fakeDrive{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDrive) requests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.queries...)
}

func (f *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queries = append(f.queries, r.URL.Query())
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/drive/v3/files" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"Backend Error"}}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer good" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		return
	}

	page := map[string]any{
		"nextPageToken": "page-2",
		"files":         []map[string]string{{"id": "f1", "name": "Roadmap", "webViewLink": "https://docs.google.com/f1"}},
	}
	if r.URL.Query().Get("pageToken") == "page-2" {
		page = map[string]any{
			"files": []map[string]string{{"id": "f2", "name": "Budget"}},
		}
	}
	_ = json.NewEncoder(w).Encode(page)
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{Drive: config.DriveConfig{
		SharedDriveID: sharedDrive,
		Endpoint:      endpoint + "/drive/v3/",
		Timeout:       time.Second,
	}}
}

func TestClientList(t *testing.T) {
	f := newFakeDrive(t)
	c := NewClient(testConfig(f.URL))

	files, err := c.List(context.Background(), "good", sharedDrive)
	require.NoError(t, err)
	assert.Equal(t, []File{
		{ID: "f1", Name: "Roadmap", WebViewLink: "https://docs.google.com/f1"},
		{ID: "f2", Name: "Budget"},
	}, files)

	reqs := f.requests()
	require.Len(t, reqs, 2)
	q := reqs[0]
	assert.Equal(t, "drive", q.Get("corpora"))
	assert.Equal(t, sharedDrive, q.Get("driveId"))
	assert.Equal(t, "true", q.Get("includeItemsFromAllDrives"))
	assert.Equal(t, "true", q.Get("supportsAllDrives"))
	assert.Equal(t, listFields, q.Get("fields"))
	assert.Equal(t, "page-2", reqs[1].Get("pageToken"))
}

func serveFiles(h *Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, FilesPath, nil)
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.HandleFiles(rec, req)
	return rec
}

func TestHandleFiles(t *testing.T) {
	f := newFakeDrive(t)
	cfg := testConfig(f.URL)
	store := tokens.NewMemoryStore()
	_, err := store.Write(context.Background(), "admin@example.com", tokens.Input{AccessToken: "good"})
	require.NoError(t, err)

	rec := serveFiles(NewHandler(cfg, NewClient(cfg), store), "admin@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Len(t, files, 2)
	assert.Equal(t, "Roadmap", files[0].Name)
}

func TestHandleFilesErrors(t *testing.T) {
	f := newFakeDrive(t)
	ctx := context.Background()
	store := tokens.NewMemoryStore()
	_, err := store.Write(ctx, "revoked@example.com", tokens.Input{AccessToken: "revoked"})
	require.NoError(t, err)
	_, err = store.Write(ctx, "admin@example.com", tokens.Input{AccessToken: "good"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		driveID string
		user    string
		down    bool
		status  int
		error   string
	}{
		{name: "no shared drive", user: "admin@example.com", status: http.StatusInternalServerError, error: msgConfigError},
		{name: "no user", driveID: sharedDrive, status: http.StatusInternalServerError, error: msgConfigError},
		{name: "not connected", driveID: sharedDrive, user: "nobody@example.com", status: http.StatusUnauthorized, error: msgInvalidToken},
		{name: "token rejected", driveID: sharedDrive, user: "revoked@example.com", status: http.StatusUnauthorized, error: msgInvalidToken},
		{name: "drive down", driveID: sharedDrive, user: "admin@example.com", down: true, status: http.StatusInternalServerError, error: msgDriveAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.mu.Lock()
			f.status = 0
			if tt.down {
				f.status = http.StatusInternalServerError
			}
			f.mu.Unlock()

			cfg := testConfig(f.URL)
			cfg.Drive.SharedDriveID = tt.driveID
			rec := serveFiles(NewHandler(cfg, NewClient(cfg), store), tt.user)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.error, body["error"])
		})
	}
}

func TestHandleFilesRejectsPost(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	h := NewHandler(cfg, NewClient(cfg), tokens.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.HandleFiles(rec, httptest.NewRequest(http.MethodPost, FilesPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
