package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"stageboard/internal/config"
	"stageboard/internal/db"
	"stageboard/internal/engine"
	"stageboard/internal/migrate"
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
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.SeedPipelines(context.Background(), cfg.Pipelines, "tester"); err != nil {
		t.Fatalf("seed pipelines: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
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

func adminHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "admin-1", "X-Actor-Roles": "admin"}
}

func confirmationHeaders(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor, "X-Actor-Roles": "confirmation"}
}

func TestMoveItemOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/pipelines/1/items", map[string]any{
		"client_name": "Sara",
		"prix":        "150",
	}, confirmationHeaders("emp-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(data))
	}
	var created ItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if created.Stage != "En attente" {
		t.Fatalf("stage = %q, want first active stage", created.Stage)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+created.ID+"/move", map[string]any{
		"stage": "Confirmé",
	}, confirmationHeaders("emp-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}

	// the allow-list blocks a confirmation employee from Livré
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+created.ID+"/move", map[string]any{
		"stage": "Livré",
	}, confirmationHeaders("emp-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("forbidden move status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "stage_not_allowed" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}

	// admin is unrestricted
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+created.ID+"/move", map[string]any{
		"stage": "Livré",
	}, adminHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin move status %d: %s", res.StatusCode, string(data))
	}
}

func TestBoardScopedByEmployee(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, actor := range []string{"emp-1", "emp-2"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/pipelines/1/items", map[string]any{
			"client_name": "client of " + actor,
		}, confirmationHeaders(actor))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create for %s: status %d: %s", actor, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/pipelines/1/board", nil, confirmationHeaders("emp-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var board BoardResponse
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	total := 0
	for _, b := range board.Buckets {
		total += len(b.Items)
	}
	if total != 1 {
		t.Fatalf("emp-1 board has %d items, want 1", total)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/pipelines/1/board", nil, adminHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin board status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	total = 0
	for _, b := range board.Buckets {
		total += len(b.Items)
	}
	if total != 2 {
		t.Fatalf("admin board has %d items, want 2", total)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "robot-1",
		"roles":    []string{"livreur"},
	}, adminHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("raw key not returned on create")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "robot-1" || me.Unrestricted {
		t.Fatalf("unexpected principal: %+v", me)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "sb_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status %d", res.StatusCode)
	}
}

func TestProtectedAdminEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products", map[string]any{
		"nom": "Sac",
	}, confirmationHeaders("emp-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create product status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/products", map[string]any{
		"nom":        "Sac",
		"prix_vente": "100",
	}, adminHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("admin create product status %d: %s", res.StatusCode, string(data))
	}

	// default pipeline cannot be deleted
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/pipelines/1", nil, adminHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("delete default pipeline status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/pipelines", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}
}
