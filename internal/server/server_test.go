package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"trustline/internal/app"
	"trustline/internal/config"
	"trustline/internal/db"
	"trustline/internal/domain"
	"trustline/internal/engine"
	"trustline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("trustline", "mgr")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.EnsureSeeded(context.Background(), conn, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

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

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/dids", map[string]any{
		"identifier": "did:trustline:bob",
	}, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create did: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Ship feature",
		"description": "End to end",
		"priority":    "high",
		"due_date":    "2099-01-01T00:00:00Z",
		"assignee":    "bob",
	}, asActor("mgr"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.ID != 0 {
		t.Fatalf("first task id = %d", created.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/mine", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list mine: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/0/complete", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done domain.Task
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if !done.Completed {
		t.Fatal("task not completed")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/0/complete", nil, asActor("bob"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second completion, got %d %s", res.StatusCode, string(data))
	}
}

func TestCreateTaskForbiddenForNonManager(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/dids", map[string]any{
		"identifier": "did:trustline:bob",
	}, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create did: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Nope",
		"description": "Not allowed",
		"priority":    "low",
		"due_date":    "2099-01-01T00:00:00Z",
		"assignee":    "bob",
	}, asActor("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestCredentialVerificationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/dids", map[string]any{
		"identifier": "did:trustline:bob",
	}, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create did: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/credentials", map[string]any{
		"subject":   "bob",
		"role":      "engineer",
		"attribute": 400,
	}, asActor("mgr"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("issue: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/credentials/verify-role", map[string]any{
		"subject": "bob",
		"issuer":  "mgr",
		"role":    "engineer",
	}, asActor("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify role: %d %s", res.StatusCode, string(data))
	}
	var verification VerificationResponse
	if err := json.Unmarshal(data, &verification); err != nil {
		t.Fatalf("unmarshal verification: %v", err)
	}
	if !verification.Status {
		t.Fatal("expected role to verify")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/credentials/verify-attribute", map[string]any{
		"subject":   "bob",
		"issuer":    "mgr",
		"attribute": 400,
	}, asActor("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify attribute: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &verification); err != nil {
		t.Fatalf("unmarshal verification: %v", err)
	}
	if !verification.Status {
		t.Fatal("expected attribute to clear threshold")
	}
}

func TestDuplicateDIDConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/dids", map[string]any{
		"identifier": "did:trustline:bob",
	}, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create did: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/dids", map[string]any{
		"identifier": "did:trustline:other",
	}, asActor("bob"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "mgr",
	}, asActor("mgr"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events with jwt: %d %s", res.StatusCode, string(data))
	}
}
