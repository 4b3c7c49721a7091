package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"entrytracker/internal/attendance"
	"entrytracker/internal/auth"
	"entrytracker/internal/httpmiddleware"
	"entrytracker/internal/metrics"
	"entrytracker/internal/model"
	"entrytracker/internal/qrcode"
	"entrytracker/internal/queue"
	"entrytracker/internal/store"
)

var testTokens = TokenConfig{
	Issuer:     "entrytracker-test",
	SigningKey: "test-key",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	queue  *queue.InMemory
}

func newTestServer(t *testing.T, backend attendance.Store, mw ...gin.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ops, err := auth.ParseOperators("")
	require.NoError(t, err)
	require.NoError(t, ops.Add("ops@example.com", "pw"))
	require.NoError(t, ops.Add("other@example.com", "pw"))

	q := queue.NewInMemory(256)
	registry := attendance.NewRegistry(backend, qrcode.New(64), nil, nil)
	svc := attendance.NewService(registry, attendance.NewEventLog(backend), attendance.Options{
		Publisher: q,
		Recorder:  metrics.New(),
	})

	r := gin.New()
	New(svc, ops, testTokens, time.UTC, nil).Register(r, mw...)
	return &testServer{t: t, router: r, queue: q}
}

func (s *testServer) login(email string) string {
	rec := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": email, "password": "pw"})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens auth.TokenPair
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	return tokens.AccessToken
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	limiter := httpmiddleware.NewSimpleTokenBucket(2, 2)
	s := newTestServer(t, store.NewMemory(), limiter.GinMiddleware(httpmiddleware.ByOwnerOrIP))

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ops@example.com", "password": "guess"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ops@example.com", "password": "pw"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": "x"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

type occupancyView struct {
	InsideIDs    []string `json:"inside_ids"`
	Anonymous    int      `json:"anonymous"`
	CurrentCount int      `json:"current_count"`
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, store.NewMemory())

	rec := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ops@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ops@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ops@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[auth.TokenPair](t, rec)

	rec = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": tokens.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": tokens.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/v1/people", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPeople(t *testing.T) {
	s := newTestServer(t, store.NewMemory())
	token := s.login("ops@example.com")

	rec := s.do(http.MethodPost, "/v1/people", token, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/people", token, gin.H{"name": " Alice ", "enrollment_no": "E-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	alice := decode[model.Person](t, rec)
	assert.Equal(t, "Alice", alice.Name)
	assert.Regexp(t, `^person_\d+_[0-9a-z]{9}$`, alice.ID)
	assert.JSONEq(t, `{"id":"`+alice.ID+`","name":"Alice","enrollmentNo":"E-1","timestamp":"`+alice.CreatedAt.Format(time.RFC3339Nano)+`"}`, alice.QRCodeData)

	rec = s.do(http.MethodGet, "/v1/people/"+alice.ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/people/"+alice.ID+"/qrcode.png", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = s.do(http.MethodGet, "/v1/people/person_0_missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	other := s.login("other@example.com")
	rec = s.do(http.MethodGet, "/v1/people", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]model.Person](t, rec)["people"])

	rec = s.do(http.MethodDelete, "/v1/people/"+alice.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodDelete, "/v1/people/"+alice.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestScanToggle(t *testing.T) {
	s := newTestServer(t, store.NewMemory())
	token := s.login("ops@example.com")

	rec := s.do(http.MethodPost, "/v1/people", token, gin.H{"name": "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	alice := decode[model.Person](t, rec)

	rec = s.do(http.MethodPost, "/v1/scans", token, gin.H{"payload": alice.QRCodeData})
	require.Equal(t, http.StatusOK, rec.Code)
	proposal := decode[map[string]any](t, rec)
	assert.Equal(t, "entry", proposal["type"])
	assert.Equal(t, false, proposal["inside"])

	// scanning records nothing until confirmed
	rec = s.do(http.MethodGet, "/v1/entries", token, nil)
	assert.Empty(t, decode[map[string][]model.Entry](t, rec)["entries"])

	rec = s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "entry", "person": gin.H{"id": alice.ID}})
	require.Equal(t, http.StatusCreated, rec.Code)
	recorded := decode[model.Entry](t, rec)
	require.NotNil(t, recorded.Person)
	assert.Equal(t, "Alice", recorded.Person.Name)

	rec = s.do(http.MethodPost, "/v1/scans", token, gin.H{"frames": []string{"", "garbage", alice.QRCodeData}})
	require.Equal(t, http.StatusOK, rec.Code)
	proposal = decode[map[string]any](t, rec)
	assert.Equal(t, "exit", proposal["type"])
	assert.Equal(t, true, proposal["inside"])

	rec = s.do(http.MethodPost, "/v1/scans", token, gin.H{"payload": "garbage"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "malformed_json", decode[map[string]any](t, rec)["kind"])

	rec = s.do(http.MethodPost, "/v1/scans", token, gin.H{"payload": `{"id":"","name":"X"}`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "schema_invalid", decode[map[string]any](t, rec)["kind"])

	rec = s.do(http.MethodPost, "/v1/scans", token, gin.H{"frames": []string{"garbage"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "entry", "person": gin.H{"id": "person_0_nobody"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualEntriesAndOccupancy(t *testing.T) {
	s := newTestServer(t, store.NewMemory())
	token := s.login("ops@example.com")

	for _, body := range []gin.H{
		{"type": "entry"},
		{"type": "ENTRY"},
		{"type": "exit"},
		{"type": "exit"},
		{"type": "exit"},
		{"type": "entry", "person": gin.H{"name": "Walk-in"}},
		{"type": "entry", "person": gin.H{"id": "badge-7", "name": "Guest"}},
		{"type": "entry", "person": gin.H{"id": "badge-7", "name": "Guest"}},
	} {
		rec := s.do(http.MethodPost, "/v1/entries", token, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/occupancy", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[occupancyView](t, rec)
	assert.Equal(t, []string{"badge-7"}, view.InsideIDs)
	assert.Equal(t, 1, view.Anonymous)
	assert.Equal(t, 2, view.CurrentCount)

	rec = s.do(http.MethodGet, "/v1/entries?limit=3", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[map[string][]model.Entry](t, rec)["entries"]
	require.Len(t, entries, 3)
	assert.Equal(t, "badge-7", entries[0].PersonID())

	rec = s.do(http.MethodGet, "/v1/entries?limit=-1", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/entries?type=exit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exits := decode[map[string][]model.Entry](t, rec)["entries"]
	require.Len(t, exits, 3)
	for _, e := range exits {
		assert.Equal(t, model.EntryTypeExit, e.Type)
	}

	rec = s.do(http.MethodGet, "/v1/entries?type=entry&limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]model.Entry](t, rec)["entries"], 2)

	rec = s.do(http.MethodGet, "/v1/entries?type=all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]model.Entry](t, rec)["entries"], 8)

	rec = s.do(http.MethodGet, "/v1/entries?type=sideways", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/stats/today", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	today := decode[map[string]any](t, rec)
	assert.EqualValues(t, 5, today["entries"])
	assert.EqualValues(t, 3, today["exits"])
	assert.EqualValues(t, 2, today["net"])

	rec = s.do(http.MethodGet, "/v1/stats/daily", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]any](t, rec)["days"], 1)

	assert.Eventually(t, func() bool { return len(drain(s.queue)) > 0 }, time.Second, 10*time.Millisecond)

	rec = s.do(http.MethodDelete, "/v1/entries", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/v1/occupancy", token, nil)
	assert.Equal(t, 0, decode[occupancyView](t, rec).CurrentCount)
}

func TestDeletingPersonKeepsOccupancy(t *testing.T) {
	s := newTestServer(t, store.NewMemory())
	token := s.login("ops@example.com")

	rec := s.do(http.MethodPost, "/v1/people", token, gin.H{"name": "Alice"})
	alice := decode[model.Person](t, rec)
	rec = s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "entry", "person": gin.H{"id": alice.ID}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/people/"+alice.ID, token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/v1/occupancy", token, nil)
	assert.Equal(t, []string{alice.ID}, decode[occupancyView](t, rec).InsideIDs)

	rec = s.do(http.MethodGet, "/v1/entries", token, nil)
	entries := decode[map[string][]model.Entry](t, rec)["entries"]
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].Person.Name)
}

func TestExportEntries(t *testing.T) {
	s := newTestServer(t, store.NewMemory())
	token := s.login("ops@example.com")
	s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "entry", "person": gin.H{"name": "Walk-in"}})

	rec := s.do(http.MethodGet, "/v1/export/entries.xlsx", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "entries.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Entries")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Walk-in", rows[1][2])
}

type failingStore struct {
	*store.Memory
}

func (failingStore) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	return model.Entry{}, errors.New("disk full")
}

func TestPersistenceFailure(t *testing.T) {
	s := newTestServer(t, failingStore{store.NewMemory()})
	token := s.login("ops@example.com")

	rec := s.do(http.MethodPost, "/v1/entries", token, gin.H{"type": "entry"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(http.MethodGet, "/v1/occupancy", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[occupancyView](t, rec).CurrentCount)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, statusFor(attendance.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(attendance.ErrMissingName))
}

func drain(q *queue.InMemory) []queue.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ch, _ := q.Consume(ctx)
	var out []queue.Message
	for msg := range ch {
		out = append(out, msg)
	}
	return out
}
