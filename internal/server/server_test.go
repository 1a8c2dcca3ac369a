package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boardroom/internal/app"
	"boardroom/internal/domain"
	"boardroom/internal/gateway"
)

type switchProvider struct {
	name string
	fail *atomic.Bool
}

func (p switchProvider) Name() string { return p.name }

func (p switchProvider) Execute(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	if p.fail.Load() {
		return gateway.Response{}, errors.New("upstream 503")
	}
	if req.Topic == "knowledge_extraction" {
		return gateway.Response{Text: `{"insight":"Invest for the long term","principle":"Patience compounds","application":"Hold the plan","themes":["patience"],"relevance":80}`}, nil
	}
	return gateway.Response{Text: "reply from " + p.name}, nil
}

type testServer struct {
	URL    string
	App    *app.App
	Fail   *atomic.Bool
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	fail := &atomic.Bool{}
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		LogLevel:  "error",
		JWTSecret: "test-secret",
		Providers: map[string]gateway.Provider{
			"anthropic": switchProvider{name: "anthropic", fail: fail},
			"gemini":    switchProvider{name: "gemini", fail: fail},
		},
	})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	if err := a.Scheduler.Sync(context.Background(), time.Now()); err != nil {
		t.Fatalf("sync schedules: %v", err)
	}
	handler, err := New(Config{
		Engine:    a.Engine,
		Registry:  a.Registry,
		Scheduler: a.Scheduler,
		Committee: a.Committee,
		Knowledge: a.Knowledge,
		Metrics:   a.Telemetry,
		Logger:    a.Logger,
		BasePath:  "/v1",
		Auth: AuthConfig{
			Credentials:            a.Auth,
			AllowLegacyActorHeader: true,
			DevLogin:               true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		Fail:   fail,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var ceo = map[string]string{"X-Actor-Id": "ceo"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, data)
	}
	return env.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "ceo"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"actor_id":"ceo"`) {
		t.Fatalf("me via jwt: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{"name": "cli"}, ceo)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("issue key: %d %s", res.StatusCode, data)
	}
	var issued APIKeyCreatedResponse
	_ = json.Unmarshal(data, &issued)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": issued.Key})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"source":"api_key"`) {
		t.Fatalf("me via api key: %d %s", res.StatusCode, data)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Pricing strategy", "assignee": "athena", "priority": "high", "execute_now": true,
	}, ceo)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, data)
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Status != domain.StatusCompleted || task.Deliverable == nil || *task.Deliverable != "reply from anthropic" {
		t.Fatalf("unexpected task %+v", task)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"action": "request_revision"}, ceo)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("revision without feedback: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"action": "cancel"}, ceo)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("cancel completed: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"action": "approve"}, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"reviewed":true`) {
		t.Fatalf("approve: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": " ", "assignee": "athena"}, ceo)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("empty title: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?status=completed", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), task.ID) {
		t.Fatalf("list: %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/missing", nil, ceo)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/gateway/metrics", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"provider":"anthropic"`) {
		t.Fatalf("metrics: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"deleted":true`) {
		t.Fatalf("delete: %d %s", res.StatusCode, data)
	}
}

func TestMembersAndQuickTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/members/nova", map[string]any{"active": false}, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"active":false`) {
		t.Fatalf("deactivate: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=member", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "member.updated") || !strings.Contains(string(data), `"nova"`) {
		t.Fatalf("member update should be audited: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/quick-tasks/campaign_ideas/run", nil, ceo)
	if res.StatusCode != http.StatusCreated || !strings.Contains(string(data), `"status":"blocked"`) {
		t.Fatalf("quick task for inactive member should be blocked: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/members/ghost/workload", nil, ceo)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "persona_unavailable" {
		t.Fatalf("unknown member: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/members/nova/workload", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"blocked":1`) {
		t.Fatalf("workload: %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/quick-tasks/nope/run", nil, ceo)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown quick task: %d", res.StatusCode)
	}
}

func TestSchedulesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/schedules", map[string]any{
		"title": "Weekly review", "assignee": "athena", "schedule": "every monday",
	}, ceo)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_schedule" {
		t.Fatalf("malformed cron: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/schedules", map[string]any{
		"title": "Weekly review", "assignee": "athena", "schedule": "0 9 * * 1",
	}, ceo)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", res.StatusCode, data)
	}
	var action domain.ScheduledAction
	_ = json.Unmarshal(data, &action)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/schedules", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "daily_briefing") || !strings.Contains(string(data), "from now") {
		t.Fatalf("list schedules: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/schedules", map[string]any{
		"title": "Strategy committee", "action_type": "committee", "participants": []string{"athena"}, "schedule": "0 10 * * 1",
	}, ceo)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("committee with one member: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/schedules", map[string]any{
		"title": "Strategy committee", "action_type": "committee", "participants": []string{"athena", "griffin"},
		"prompt": "What changed?", "schedule": "0 10 * * 1",
	}, ceo)
	if res.StatusCode != http.StatusCreated || !strings.Contains(string(data), `"participants":["athena","griffin"]`) {
		t.Fatalf("committee action: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/schedules/daily_briefing", nil, ceo)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("deleting a builtin: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/schedules/"+action.ID, map[string]any{"active": false}, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"active":false`) {
		t.Fatalf("pause: %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/schedules/"+action.ID, nil, ceo)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", res.StatusCode)
	}
}

func TestMeetingsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/meetings", map[string]any{
		"title": "Solo", "participants": []string{"athena"},
	}, ceo)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("one participant: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/meetings", map[string]any{
		"title": "Q3 planning", "participants": []string{"athena", "griffin", "scuba"},
	}, ceo)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create meeting: %d %s", res.StatusCode, data)
	}
	var m domain.Meeting
	_ = json.Unmarshal(data, &m)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/meetings/"+m.ID+"/messages", map[string]any{"content": "Where do we cut?"}, ceo)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send: %d %s", res.StatusCode, data)
	}
	var round struct {
		Responses []domain.Message `json:"responses"`
	}
	_ = json.Unmarshal(data, &round)
	if len(round.Responses) != 3 {
		t.Fatalf("expected three replies: %s", data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/meetings/"+m.ID+"/messages?after=1", nil, ceo)
	if res.StatusCode != http.StatusOK || strings.Contains(string(data), "Where do we cut?") {
		t.Fatalf("messages after seq 1: %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/meetings/"+m.ID+"/end", nil, ceo)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/meetings/"+m.ID+"/messages", map[string]any{"content": "Hello?"}, ceo)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("send to ended meeting: %d %s", res.StatusCode, data)
	}
}

func TestKnowledgeOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/knowledge/filter", map[string]any{
		"content": "He launched another feud with his rival over the lawsuit",
	}, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"filter":true`) {
		t.Fatalf("filter: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/knowledge/entries", map[string]any{
		"figure_id": "warren-buffett", "source_type": "letter", "content": "Our favorite holding period is forever.",
	}, ceo)
	if res.StatusCode != http.StatusCreated || !strings.Contains(string(data), `"relevance":80`) {
		t.Fatalf("ingest: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/knowledge/synthesize", map[string]any{"figure_id": "warren-buffett"}, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"synthesized":1`) {
		t.Fatalf("synthesize: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/knowledge/figures/warren-buffett", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Patience compounds") {
		t.Fatalf("figure: %d %s", res.StatusCode, data)
	}

	srv.Fail.Store(true)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/knowledge/entries", map[string]any{
		"figure_id": "warren-buffett", "source_type": "letter", "content": "Price is what you pay.",
	}, ceo)
	if res.StatusCode != http.StatusBadGateway || errorCode(t, data) != "gateway_exhausted" {
		t.Fatalf("exhausted gateway: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=knowledge_entry", nil, ceo)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "knowledge.ingested") {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
}

func TestOpenAPISpec(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/meetings/{id}/messages") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestOpenAPIConcurrentFirstReads(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	const readers = 8
	bodies := make(chan string, readers)
	errs := make(chan error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			if res.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies <- string(data)
		}()
	}
	wg.Wait()
	close(errs)
	close(bodies)
	for err := range errs {
		t.Fatalf("concurrent openapi read: %v", err)
	}
	var first string
	for body := range bodies {
		if !strings.Contains(body, "bearerAuth") {
			t.Fatalf("security schemes missing from document")
		}
		if first == "" {
			first = body
		} else if body != first {
			t.Fatalf("readers saw different documents")
		}
	}
}
