package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
	"github.com/maauso/eogum-api/internal/storage"
)

const testAccount = "acct-1"

// mockStore implements storage.Store for testing.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	args := m.Called(ctx, localPath, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Download(ctx context.Context, key, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *mockStore) PresignDownload(ctx context.Context, key, filename string) (string, error) {
	args := m.Called(ctx, key, filename)
	return args.String(0), args.Error(1)
}

func (m *mockStore) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

type recordingQueue struct {
	ids []string
}

func (q *recordingQueue) Enqueue(projectID string) {
	q.ids = append(q.ids, projectID)
}

func (q *recordingQueue) Pending() int {
	return len(q.ids)
}

type fixture struct {
	router http.Handler
	repo   *job.MemoryRepository
	ledger *credit.Ledger
	store  *mockStore
	queue  *recordingQueue
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := job.NewMemoryRepository()
	ledger := credit.NewLedger(credit.NewMemoryStore(), logger)
	if balance > 0 {
		require.NoError(t, ledger.Grant(context.Background(), testAccount, balance, ""))
	}
	queue := &recordingQueue{}
	store := &mockStore{}
	svc := job.NewService(repo, ledger, queue, logger)
	h := NewHandlers(svc, ledger, store, logger, WithQueue(queue))
	return &fixture{
		router: NewRouter(h, logger, Config{AllowedOrigins: []string{"https://app.example.com"}}),
		repo:   repo,
		ledger: ledger,
		store:  store,
		queue:  queue,
	}
}

func (f *fixture) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedProject(t *testing.T, accountID string, status job.ProjectStatus, created time.Time) *job.Project {
	t.Helper()
	p := job.NewProject(accountID, "vlog", job.CutSubtitle)
	p.SourceKey = "sources/" + p.ID + ".mp4"
	p.SourceFilename = "vlog.mp4"
	p.SourceDurationSeconds = 40
	p.Status = status
	p.CreatedAt = created
	require.NoError(t, f.repo.SaveProject(context.Background(), p))
	return p
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func validCreateRequest() CreateProjectRequest {
	return CreateProjectRequest{
		Name:                  "vlog",
		CutType:               "podcast_cut",
		SourceKey:             "sources/abc.mp4",
		SourceFilename:        "vlog.mp4",
		SourceDurationSeconds: 40,
		SourceSizeBytes:       1024,
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)
	f.queue.Enqueue("p1")

	rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Pending)
}

func TestMissingAccountIsUnauthorized(t *testing.T) {
	f := newFixture(t, 100)

	for _, path := range []string{"/api/v1/projects", "/api/v1/credits"} {
		rec := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "UNAUTHORIZED", decodeBody[ErrorResponse](t, rec).Code)
	}
}

func TestCreateProject_Success(t *testing.T) {
	f := newFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/api/v1/projects", testAccount, validCreateRequest())

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[ProjectResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "podcast_cut", resp.CutType)
	assert.Equal(t, "ko", resp.Language)
	assert.Equal(t, []string{resp.ID}, f.queue.ids)

	stored, err := f.repo.FindProject(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, testAccount, stored.AccountID)
	assert.Equal(t, "sources/abc.mp4", stored.SourceKey)

	bal, err := f.ledger.Balance(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Held, "creation must not touch the ledger")
}

func TestCreateProject_InsufficientCredit(t *testing.T) {
	f := newFixture(t, 30)

	rec := f.do(t, http.MethodPost, "/api/v1/projects", testAccount, validCreateRequest())

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_CREDIT", resp.Code)
	require.NotNil(t, resp.Required)
	require.NotNil(t, resp.Available)
	assert.Equal(t, 40, *resp.Required)
	assert.Equal(t, 30, *resp.Available)

	projects, err := f.repo.ListProjectsByAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Empty(t, f.queue.ids)

	txs, err := f.ledger.Transactions(context.Background(), testAccount, 0, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the grant is recorded")
}

func TestCreateProject_UnknownAccount(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/v1/projects", "stranger", validCreateRequest())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateProject_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
		code string
	}{
		{name: "invalid json", body: "{not json", code: "INVALID_JSON"},
		{name: "unknown cut type", body: func() CreateProjectRequest {
			r := validCreateRequest()
			r.CutType = "jump_cut"
			return r
		}(), code: "VALIDATION_ERROR"},
		{name: "zero duration", body: func() CreateProjectRequest {
			r := validCreateRequest()
			r.SourceDurationSeconds = 0
			return r
		}(), code: "VALIDATION_ERROR"},
		{name: "missing source key", body: func() CreateProjectRequest {
			r := validCreateRequest()
			r.SourceKey = ""
			return r
		}(), code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)
			rec := f.do(t, http.MethodPost, "/api/v1/projects", testAccount, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			assert.Empty(t, f.queue.ids)
		})
	}
}

func TestListProjects_NewestFirstAndScopedToAccount(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Now().UTC()
	older := f.seedProject(t, testAccount, job.ProjectCompleted, base.Add(-time.Hour))
	newer := f.seedProject(t, testAccount, job.ProjectQueued, base)
	f.seedProject(t, "other", job.ProjectQueued, base)

	rec := f.do(t, http.MethodGet, "/api/v1/projects", testAccount, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[[]ProjectResponse](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, newer.ID, resp[0].ID)
	assert.Equal(t, older.ID, resp[1].ID)
}

func TestGetProject_WithJobsAndReport(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	p := f.seedProject(t, testAccount, job.ProjectCompleted, time.Now().UTC())
	j := job.New(p)
	require.NoError(t, j.Complete(map[string]string{"edit_timeline": "results/" + p.ID + "/source.fcpxml"}))
	require.NoError(t, f.repo.SaveJob(ctx, j))
	require.NoError(t, f.repo.SaveReport(ctx, &job.Report{
		ProjectID:            p.ID,
		TotalDurationSeconds: 40,
		CutDurationSeconds:   10,
		CutPercentage:        25,
		Markdown:             "# report",
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, testAccount, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ProjectDetailResponse](t, rec)
	assert.Equal(t, p.ID, resp.ID)
	assert.Equal(t, p.SourceKey, resp.SourceKey)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "completed", resp.Jobs[0].Status)
	assert.Equal(t, 100, resp.Jobs[0].Progress)
	assert.NotNil(t, resp.Jobs[0].CompletedAt)
	require.NotNil(t, resp.Report)
	assert.InDelta(t, 25.0, resp.Report.CutPercentage, 0.001)
	assert.Equal(t, "# report", resp.Report.ReportMarkdown)
}

func TestGetProject_OtherAccountIsNotFound(t *testing.T) {
	f := newFixture(t, 0)
	p := f.seedProject(t, "other", job.ProjectQueued, time.Now().UTC())

	rec := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, testAccount, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestRetryProject(t *testing.T) {
	t.Run("failed project is requeued", func(t *testing.T) {
		f := newFixture(t, 100)
		p := f.seedProject(t, testAccount, job.ProjectFailed, time.Now().UTC())

		rec := f.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/retry", testAccount, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "queued", decodeBody[ProjectResponse](t, rec).Status)
		assert.Equal(t, []string{p.ID}, f.queue.ids)
	})

	t.Run("completed project is not retriable", func(t *testing.T) {
		f := newFixture(t, 100)
		p := f.seedProject(t, testAccount, job.ProjectCompleted, time.Now().UTC())

		rec := f.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/retry", testAccount, nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_RETRIABLE", decodeBody[ErrorResponse](t, rec).Code)
		assert.Empty(t, f.queue.ids)
	})

	t.Run("retry checks credit", func(t *testing.T) {
		f := newFixture(t, 10)
		p := f.seedProject(t, testAccount, job.ProjectFailed, time.Now().UTC())

		rec := f.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/retry", testAccount, nil)

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		stored, err := f.repo.FindProject(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ProjectFailed, stored.Status)
	})
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t, 0)
	busy := f.seedProject(t, testAccount, job.ProjectProcessing, time.Now().UTC())
	done := f.seedProject(t, testAccount, job.ProjectCompleted, time.Now().UTC())

	rec := f.do(t, http.MethodDelete, "/api/v1/projects/"+busy.ID, testAccount, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROJECT_BUSY", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/projects/"+done.ID, testAccount, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.repo.FindProject(context.Background(), done.ID)
	assert.ErrorIs(t, err, job.ErrProjectNotFound)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	p := f.seedProject(t, testAccount, job.ProjectCompleted, time.Now().UTC())
	key := "results/" + p.ID + "/source.fcpxml"
	j := job.New(p)
	require.NoError(t, j.Complete(map[string]string{string(job.ArtifactEditTimeline): key}))
	require.NoError(t, f.repo.SaveJob(ctx, j))

	f.store.On("PresignDownload", mock.Anything, key, "vlog.fcpxml").Return("https://r2.example.com/signed", nil).Twice()
	f.store.On("PresignDownload", mock.Anything, p.SourceKey, "vlog.mp4").Return("https://r2.example.com/source", nil).Once()

	for _, kind := range []string{"edit_timeline", "fcpxml"} {
		rec := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/downloads/"+kind, testAccount, nil)
		require.Equal(t, http.StatusOK, rec.Code, kind)
		resp := decodeBody[DownloadResponse](t, rec)
		assert.Equal(t, "https://r2.example.com/signed", resp.DownloadURL)
		assert.Equal(t, "vlog.fcpxml", resp.Filename)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/downloads/source", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vlog.mp4", decodeBody[DownloadResponse](t, rec).Filename)

	rec = f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/downloads/report", testAccount, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FILE_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/downloads/exe", testAccount, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_FILE_TYPE", decodeBody[ErrorResponse](t, rec).Code)

	f.store.AssertExpectations(t)
}

func TestDownload_NoCompletedJob(t *testing.T) {
	f := newFixture(t, 0)
	p := f.seedProject(t, testAccount, job.ProjectFailed, time.Now().UTC())

	rec := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/downloads/subtitle_track", testAccount, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.store.AssertNotCalled(t, "PresignDownload", mock.Anything, mock.Anything, mock.Anything)
}

func TestPresignUpload(t *testing.T) {
	f := newFixture(t, 0)
	f.store.On("PresignUpload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "sources/") && strings.HasSuffix(key, ".mov")
	}), "video/quicktime").Return("https://r2.example.com/put", nil).Once()

	rec := f.do(t, http.MethodPost, "/api/v1/uploads/presign", testAccount, PresignUploadRequest{
		Filename: "clip.mov", ContentType: "video/quicktime", SizeBytes: 2048,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[PresignUploadResponse](t, rec)
	assert.Equal(t, "https://r2.example.com/put", resp.UploadURL)
	assert.True(t, strings.HasPrefix(resp.Key, "sources/"))
	f.store.AssertExpectations(t)
}

func TestPresignUpload_Unsupported(t *testing.T) {
	f := newFixture(t, 0)
	f.store.On("PresignUpload", mock.Anything, mock.Anything, mock.Anything).Return("", storage.ErrPresignUnsupported)

	rec := f.do(t, http.MethodPost, "/api/v1/uploads/presign", testAccount, PresignUploadRequest{
		Filename: "clip.mp4", ContentType: "video/mp4",
	})

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "PRESIGN_UNSUPPORTED", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCredits(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, testAccount, 30, "job-1"))

	rec := f.do(t, http.MethodGet, "/api/v1/credits", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, credit.Balance{Balance: 100, Held: 30, Available: 70}, decodeBody[credit.Balance](t, rec))

	rec = f.do(t, http.MethodGet, "/api/v1/credits", "newcomer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, credit.Balance{}, decodeBody[credit.Balance](t, rec))
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, testAccount, 30, "job-1"))
	require.NoError(t, f.ledger.Commit(ctx, testAccount, 30, "job-1"))

	rec := f.do(t, http.MethodGet, "/api/v1/credits/transactions", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[[]TransactionResponse](t, rec)
	require.Len(t, all, 3)
	types := []string{all[0].Type, all[1].Type, all[2].Type}
	assert.ElementsMatch(t, []string{"grant", "hold", "usage"}, types)

	rec = f.do(t, http.MethodGet, "/api/v1/credits/transactions?limit=1&offset=1", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TransactionResponse](t, rec), 1)

	for _, q := range []string{"limit=0", "limit=500", "offset=-1", "limit=abc"} {
		rec = f.do(t, http.MethodGet, "/api/v1/credits/transactions?"+q, testAccount, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/credits/transactions", "newcomer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]TransactionResponse](t, rec))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), AccountHeader)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}
