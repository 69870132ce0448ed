package routers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/internal/server/handlers/deadletters"
	"soika/jobrouter/internal/server/handlers/events"
	"soika/jobrouter/internal/server/handlers/health"
	"soika/jobrouter/internal/server/handlers/jobs"
	"soika/jobrouter/internal/server/middlewares"
	"soika/jobrouter/internal/transport"
	"soika/jobrouter/internal/transport/memory"
	"soika/jobrouter/pkg/entity"
	"soika/jobrouter/pkg/ginx"
	redisx "soika/jobrouter/pkg/infra/redis"
	"soika/jobrouter/pkg/logger"
)

type signupInput struct {
	Email string `json:"email" validate:"required,email"`
}

type testServer struct {
	engine *gin.Engine
	driver *memory.Driver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, &fakeLister{}, &fakeSource{err: errors.New("no redis")})
}

func newTestServerWith(t *testing.T, lister deadletters.Lister, source events.Source) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNopLogger()
	d := memory.New()
	a := transport.NewAdapter(d, "jobs", log)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Connect(context.Background()))

	reg, err := jobrouter.NewRegistry(jobrouter.Jobs{
		"signup": jobrouter.DefineJob[signupInput]().Handler(func(ctx context.Context, in signupInput) error { return nil }),
	})
	require.NoError(t, err)
	r, err := jobrouter.New("jobs", a, reg, log, jobrouter.WithEmitWait(200*time.Millisecond))
	require.NoError(t, err)

	engine := SetupRoutes(Handlers{
		Jobs:        jobs.NewJobHandler(r, log),
		Health:      health.NewHealthHandler("jobrouter", a),
		DeadLetters: deadletters.NewDeadLetterHandler(lister, "jobs"),
		Events:      events.NewEventHandler(source, log),
	}, log)
	return &testServer{engine: engine, driver: d}
}

type fakeLister struct {
	items []entity.DeadLetter
	err   error
	queue string
	limit int
}

func (f *fakeLister) ListByQueue(ctx context.Context, queue string, limit int) ([]entity.DeadLetter, error) {
	f.queue, f.limit = queue, limit
	return f.items, f.err
}

type fakeSource struct {
	events chan *redisx.JobEvent
	err    error
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan *redisx.JobEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (s *testServer) do(method, path, body string) (*httptest.ResponseRecorder, ginx.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp ginx.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestEmit_Accepted(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodPost, "/api/v1/jobs/signup?delay=1s&priority=2", `{"email":"a@b.co"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 202, resp.Meta.Code)
	assert.NotEmpty(t, w.Header().Get(middlewares.RequestIDHeader))

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["message_id"])
	assert.Equal(t, "signup", data["kind"])
	assert.Equal(t, 1, s.driver.Pending("jobs"))
}

func TestEmit_ValidationDetails(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodPost, "/api/v1/jobs/signup", `{"email":"nope"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, resp.Meta.Details, 1)
	assert.Equal(t, "email", resp.Meta.Details[0].Path)
	assert.Equal(t, "email", resp.Meta.Details[0].Rule)
	assert.Equal(t, 0, s.driver.Pending("jobs"))
}

func TestEmit_BadRequests(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, "/api/v1/jobs/signup", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/jobs/signup?delay=soon", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/jobs/signup?max_attempts=0", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/jobs/signup?max_attempts=70000", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, s.driver.Pending("jobs"))
}

func TestEmit_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, "/api/v1/jobs/unknown", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmit_QueueDown(t *testing.T) {
	s := newTestServer(t)
	s.driver.SetAvailable(false)

	w, _ := s.do(http.MethodPost, "/api/v1/jobs/signup", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, resp := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "queue not connected", resp.Meta.Message)
}

func TestKindsAndHealth(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodGet, "/api/v1/jobs/kinds", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, []interface{}{"signup"}, data["kinds"])

	w, resp = s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", resp.Data.(map[string]interface{})["transport"])

	w, _ = s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEmit_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"a@b.co","pad":"` + strings.Repeat("x", 1<<20) + `"}`
	w, _ := s.do(http.MethodPost, "/api/v1/jobs/signup", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, s.driver.Pending("jobs"))
}

func TestDeadLetters_List(t *testing.T) {
	lister := &fakeLister{items: []entity.DeadLetter{{MessageID: "m1", Queue: "audit", Kind: "signup"}}}
	s := newTestServerWith(t, lister, &fakeSource{err: errors.New("no redis")})

	w, resp := s.do(http.MethodGet, "/api/v1/dead-letters?queue=audit&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "audit", lister.queue)
	assert.Equal(t, 10, lister.limit)

	data := resp.Data.(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)

	_, _ = s.do(http.MethodGet, "/api/v1/dead-letters", "")
	assert.Equal(t, "jobs", lister.queue)
	assert.Equal(t, 50, lister.limit)

	w, _ = s.do(http.MethodGet, "/api/v1/dead-letters?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeadLetters_StoreError(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	s := newTestServerWith(t, lister, &fakeSource{err: errors.New("no redis")})

	w, resp := s.do(http.MethodGet, "/api/v1/dead-letters", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to list dead letters", resp.Meta.Message)
}

// streamRecorder adds the CloseNotify that gin's Context.Stream expects.
type streamRecorder struct {
	*httptest.ResponseRecorder
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func TestEvents_Stream(t *testing.T) {
	ch := make(chan *redisx.JobEvent, 2)
	ch <- &redisx.JobEvent{MessageID: "m1", Kind: "signup", Action: "success"}
	ch <- &redisx.JobEvent{MessageID: "m2", Kind: "signup", Action: "bury"}
	close(ch)
	s := newTestServerWith(t, &fakeLister{}, &fakeSource{events: ch})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/events", nil)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	out := w.Body.String()
	assert.Equal(t, 2, strings.Count(out, "event:job"))
	assert.Contains(t, out, `"message_id":"m1"`)
	assert.Contains(t, out, `"action":"bury"`)
}

func TestEvents_Unavailable(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/jobs/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
