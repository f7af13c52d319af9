package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"searchsync/internal/audit"
	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/internal/migrate"
	"searchsync/internal/queue"
	"searchsync/internal/search"
	"searchsync/internal/token"
	"searchsync/pkg/platform/tx"
)

type HandlerSuite struct {
	suite.Suite
	engine   *search.MemoryEngine
	ledger   *ledger.MemoryStore
	queue    *queue.MemoryStore
	server   *httptest.Server
	migrator *migrate.Migrator
	ctx      context.Context
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	log := logrus.New()
	s.engine = search.NewMemoryEngine()
	s.ledger = ledger.NewMemoryStore()
	s.queue = queue.NewMemoryStore()
	s.ctx = context.Background()

	queueService := queue.NewService(s.queue, s.ledger, tx.NopRunner{}, nil, log)
	tokenService := token.NewService(token.NewMemoryStore(), s.ledger, time.Minute, nil)
	s.migrator = migrate.New(s.engine, migrate.NewMemoryStore(), migrate.Options{}, audit.NopPublisher{}, log)

	handler := NewHandler(queueService, tokenService, s.migrator, nil, log)
	s.server = httptest.NewServer(NewRouter(handler, log))
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) post(path, body string) (*http.Response, map[string]any) {
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *HandlerSuite) get(path string) (*http.Response, map[string]any) {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *HandlerSuite) decode(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *HandlerSuite) TestEnqueue() {
	body := `{
		"tenant": "acme", "entity_type": "event", "entity_id": "e1",
		"operation": "UPSERT", "payload": {"title": "gig"},
		"version": 1, "idempotency_key": "k1"
	}`

	resp, out := s.post("/queue/entries", body)
	s.Equal(http.StatusCreated, resp.StatusCode)
	s.Equal(true, out["inserted"])

	// Redelivery: success, nothing inserted.
	resp, out = s.post("/queue/entries", body)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(false, out["inserted"])
}

func (s *HandlerSuite) TestEnqueueRejectsBadInput() {
	resp, _ := s.post("/queue/entries", `{"operation": "MERGE"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.post("/queue/entries", `not json`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, out := s.post("/queue/entries", `{
		"tenant": "acme", "entity_type": "event", "entity_id": "e1",
		"operation": "UPSERT", "version": 0, "idempotency_key": "k"
	}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Contains(out["error"], "version")
}

type failingQueueService struct{ err error }

func (f failingQueueService) Enqueue(ctx context.Context, req queue.EnqueueRequest) (bool, error) {
	return false, f.err
}

// Store and transaction failures are the service's fault, not the caller's:
// they surface as 500 without leaking internals, while validation stays 400.
func (s *HandlerSuite) TestEnqueueStoreFailure() {
	log := logrus.New()
	failing := failingQueueService{err: errors.New("pq: connection refused")}
	handler := NewHandler(failing, nil, nil, nil, log)
	server := httptest.NewServer(NewRouter(handler, log))
	defer server.Close()

	resp, err := http.Post(server.URL+"/queue/entries", "application/json", strings.NewReader(`{
		"tenant": "acme", "entity_type": "event", "entity_id": "e1",
		"operation": "UPSERT", "version": 1, "idempotency_key": "k1"
	}`))
	s.Require().NoError(err)
	out := s.decode(resp)
	s.Equal(http.StatusInternalServerError, resp.StatusCode)
	s.Equal("enqueue failed", out["error"])
}

func (s *HandlerSuite) TestTokenLifecycle() {
	entity := domain.EntityRef{Tenant: "acme", Type: "event", ID: "e1"}
	s.Require().NoError(s.ledger.Advance(s.ctx, entity, 3))

	resp, out := s.post("/tokens", `{
		"client_id": "c1", "tenant": "acme",
		"writes": [{"entity_type": "event", "entity_id": "e1", "version": 3}]
	}`)
	s.Equal(http.StatusCreated, resp.StatusCode)
	id, ok := out["token"].(string)
	s.Require().True(ok)
	s.NotEmpty(id)

	resp, out = s.get("/tokens/" + id)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("pending", out["state"])

	s.Require().NoError(s.ledger.MarkIndexed(s.ctx, entity, 3))

	resp, out = s.get("/tokens/" + id)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("satisfied", out["state"])
}

func (s *HandlerSuite) TestUnknownTokenIsUnknownState() {
	resp, out := s.get("/tokens/nope")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("unknown", out["state"])
}

func (s *HandlerSuite) TestIssueTokenRejectsEmptyWrites() {
	resp, _ := s.post("/tokens", `{"client_id": "c1", "tenant": "acme", "writes": []}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestMigrationEndpoints() {
	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_v1", nil))
	s.Require().NoError(s.engine.SwapAlias(s.ctx, "event", "event_v1", nil))

	resp, out := s.post("/migrations", `{"alias": "event"}`)
	s.Equal(http.StatusAccepted, resp.StatusCode)
	id, ok := out["migration_id"].(string)
	s.Require().True(ok)

	s.Require().Eventually(func() bool {
		resp, out := s.get("/migrations/" + id)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		return out["state"] == "DONE"
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *HandlerSuite) TestMigrationConflict() {
	log := logrus.New()
	// A migrator whose drain gate never opens holds the first migration
	// non-terminal, so the second collides on the alias.
	slow := migrate.New(s.engine, migrate.NewMemoryStore(), migrate.Options{
		QueueDepth:   func(ctx context.Context) (int64, error) { return 1, nil },
		DrainTimeout: time.Second,
	}, audit.NopPublisher{}, log)
	handler := NewHandler(nil, nil, slow, nil, log)
	server := httptest.NewServer(NewRouter(handler, log))
	defer server.Close()

	s.Require().NoError(s.engine.CreateIndex(s.ctx, "venue_v1", nil))
	s.Require().NoError(s.engine.SwapAlias(s.ctx, "venue", "venue_v1", nil))

	resp, err := http.Post(server.URL+"/migrations", "application/json", strings.NewReader(`{"alias": "venue"}`))
	s.Require().NoError(err)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	first := s.decode(resp)["migration_id"].(string)

	resp, err = http.Post(server.URL+"/migrations", "application/json", strings.NewReader(`{"alias": "venue"}`))
	s.Require().NoError(err)
	out := s.decode(resp)
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Contains(out["error"], "in progress")

	s.Require().Eventually(func() bool {
		resp, err := http.Get(server.URL + "/migrations/" + first)
		s.Require().NoError(err)
		state, _ := s.decode(resp)["state"].(string)
		return state == "FAILED"
	}, 3*time.Second, 10*time.Millisecond)
}

func (s *HandlerSuite) TestMigrationStatusNotFound() {
	resp, _ := s.get("/migrations/does-not-exist")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestMigrationRequiresAlias() {
	resp, out := s.post("/migrations", `{}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Contains(out["error"], "alias")
}

func (s *HandlerSuite) TestHealth() {
	resp, out := s.get("/healthz")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("ok", out["status"])
}

func (s *HandlerSuite) TestMetricsExposed() {
	resp, err := http.Get(s.server.URL + "/metrics")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
