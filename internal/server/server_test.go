package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/config"
	"github.com/Arthur-Ziegler/tatake-backend/internal/db"
	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/engine"
	"github.com/Arthur-Ziegler/tatake-backend/internal/migrate"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func seedPoints(t *testing.T, e engine.Engine, userID string, amount int) {
	t.Helper()
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := e.Repo.AppendPointsTx(ctx, tx, domain.PointsTransaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Amount:     amount,
		SourceType: repo.SourceTaskReward,
		CreatedAt:  now,
	}); err != nil {
		t.Fatalf("append points: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
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

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"user_id": "alice"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("token missing: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "alice" || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}
}

func TestAPIKeyAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rawKey := "local-cli-key"
	ctx := context.Background()
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := srv.Engine.Repo.EnsureUser(ctx, tx, "alice", now); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := srv.Engine.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    "alice",
		Name:      "laptop",
		KeyHash:   repo.HashAPIKey(rawKey),
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": rawKey})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "alice" || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "not-a-key"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key should be rejected: %d %s", res.StatusCode, string(data))
	}
}

func TestTaskCompleteFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "Ship it"}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/complete", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done CompleteTaskResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal complete: %v", err)
	}
	if done.Task.Status != "completed" || done.Reward.Points != 10 {
		t.Fatalf("complete response: %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/points/balance", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("balance: %d %s", res.StatusCode, string(data))
	}
	var bal BalanceResponse
	_ = json.Unmarshal(data, &bal)
	if bal.Balance != 10 {
		t.Fatalf("balance = %d, want 10", bal.Balance)
	}

	// Replay pays nothing.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/complete", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-complete: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &done)
	if !done.Reward.AlreadyClaimed {
		t.Fatalf("want already_claimed, got %+v", done.Reward)
	}
}

func TestTaskOwnershipIsolation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "private"}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+created.ID, nil, asUser("bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign task visible: %d", res.StatusCode)
	}
}

func TestReparentCycleReturnsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "a"}, asUser("alice"))
	var a TaskResponse
	_ = json.Unmarshal(data, &a)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "b", "parent_id": a.ID}, asUser("alice"))
	var b TaskResponse
	_ = json.Unmarshal(data, &b)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+a.ID, map[string]any{"parent_id": b.ID}, asUser("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envlp struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envlp)
	if envlp.Error.Code != "cycle_detected" {
		t.Fatalf("error code = %q", envlp.Error.Code)
	}
}

func TestTop3InsufficientBalance(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPoints(t, srv.Engine, "alice", 250)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "big"}, asUser("alice"))
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/top3", map[string]any{
		"date":     "2026-02-14",
		"task_ids": []string{created.ID},
	}, asUser("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envlp struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envlp)
	if envlp.Error.Code != "insufficient_balance" {
		t.Fatalf("error code = %q", envlp.Error.Code)
	}
	if envlp.Error.Details["balance"].(float64) != 250 || envlp.Error.Details["required"].(float64) != 300 {
		t.Fatalf("details = %v", envlp.Error.Details)
	}
}

func TestTop3DuplicateDayConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPoints(t, srv.Engine, "alice", 600)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "one"}, asUser("alice"))
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/top3", map[string]any{
		"date":     "2026-02-14",
		"task_ids": []string{created.ID},
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first set: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/top3", map[string]any{
		"date":     "2026-02-14",
		"task_ids": []string{created.ID},
	}, asUser("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second set: %d %s", res.StatusCode, string(data))
	}
}

func TestCraftShortageDetails(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	sticker, err := srv.Engine.CreateItem(ctx, engine.ItemCreateOptions{Name: "sticker", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	crown, err := srv.Engine.CreateItem(ctx, engine.ItemCreateOptions{Name: "crown"})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := srv.Engine.CreateRecipe(ctx, engine.RecipeCreateOptions{
		Name:           "crown recipe",
		Inputs:         []domain.RecipeInput{{ItemID: sticker.ID, Quantity: 3}},
		OutputItemID:   crown.ID,
		OutputQuantity: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/recipes/"+rec.ID+"/craft", nil, asUser("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envlp struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envlp)
	if envlp.Error.Code != "insufficient_materials" {
		t.Fatalf("error code = %q", envlp.Error.Code)
	}
	if envlp.Error.Details["shortages"] == nil {
		t.Fatalf("shortages missing: %v", envlp.Error.Details)
	}
}
