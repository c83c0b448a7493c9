package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"wordassoc/internal/broadcast"
	"wordassoc/internal/config"
	"wordassoc/internal/lifecycle"
	"wordassoc/internal/registry"
	"wordassoc/internal/reset"
	"wordassoc/internal/store"
	"wordassoc/internal/ws"
	"wordassoc/pkg/types"
)

type testServer struct {
	server   *Server
	store    *store.Memory
	registry *registry.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.AdminPassword = "secret"

	st := store.NewMemory()
	reg := registry.New(st)

	b := broadcast.New()
	b.SetSubmittedFilter(reg.SubmittedConnectionIDs)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("failed to start broadcaster: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })

	lm := lifecycle.NewManager(st, b, reg)
	tokens := NewTokenStore()
	rc := reset.NewCoordinator(st, reg, b, tokens)
	wsHandler := ws.NewHandler(reg, b, lm)

	s := NewServer(cfg, st, reg, b, lm, rc, tokens, wsHandler)
	t.Cleanup(s.Close)

	return &testServer{server: s, store: st, registry: reg}
}

func (ts *testServer) request(t *testing.T, method, path, adminToken string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		req.Header.Set(adminTokenHeader, adminToken)
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()

	rec := ts.request(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeJSON(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("expected a login token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAdminLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rec.Code)
	}

	token := ts.login(t)

	rec = ts.request(t, http.MethodGet, "/api/admin/dashboard", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/admin/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("logout failed with %d", rec.Code)
	}

	rec = ts.request(t, http.MethodGet, "/api/admin/dashboard", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/admin/test", "/api/admin/soft-reset", "/api/admin/emergency-reset"} {
		rec := ts.request(t, http.MethodPost, path, "", map[string]string{"word": "x"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestTestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	rec := ts.request(t, http.MethodPost, "/api/admin/test", token, map[string]string{"word": "kitap"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed with %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON(t, rec)["test"].(map[string]interface{})
	id := strconv.Itoa(int(created["id"].(float64)))

	rec = ts.request(t, http.MethodPost, "/api/admin/test/"+id+"/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start failed with %d: %s", rec.Code, rec.Body.String())
	}

	// A second test cannot be created while one is running.
	rec = ts.request(t, http.MethodPost, "/api/admin/test", token, map[string]string{"word": "okul"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for concurrent test, got %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/admin/test/"+id+"/finish", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish failed with %d: %s", rec.Code, rec.Body.String())
	}

	// Finishing again is an invalid transition.
	rec = ts.request(t, http.MethodPost, "/api/admin/test/"+id+"/finish", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for double finish, got %d", rec.Code)
	}

	rec = ts.request(t, http.MethodGet, "/api/admin/tests", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tests list failed with %d", rec.Code)
	}
	tests := decodeJSON(t, rec)["tests"].([]interface{})
	if len(tests) != 1 {
		t.Errorf("expected 1 test in history, got %d", len(tests))
	}
}

func TestCreateTestValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	rec := ts.request(t, http.MethodPost, "/api/admin/test", token, map[string]string{"word": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank word, got %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/admin/test/not-a-number/start", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/admin/test/99/start", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown test, got %d", rec.Code)
	}
}

func TestUserStatusAndSubmit(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// No session yet: status reports the test state only.
	rec := ts.request(t, http.MethodGet, "/api/user/status", "", nil)
	body := decodeJSON(t, rec)
	if body["connected"] != false || body["testActive"] != false {
		t.Errorf("expected unidentified idle status, got %v", body)
	}

	testID, _ := ts.store.CreateTest(ctx, "kitap")
	_ = ts.store.StartTest(ctx, testID, time.Now())
	p, err := ts.registry.RegisterConnection(ctx, "", "alice", "conn-1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/user/status", nil)
	req.Header.Set(sessionHeader, p.SessionID)
	statusRec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(statusRec, req)
	body = decodeJSON(t, statusRec)
	if body["connected"] != true || body["username"] != "alice" || body["testActive"] != true {
		t.Errorf("unexpected status: %v", body)
	}
	if body["testWord"] != "kitap" {
		t.Errorf("expected test word kitap, got %v", body["testWord"])
	}

	submit := func(words []string) *httptest.ResponseRecorder {
		data, _ := json.Marshal(map[string]interface{}{"words": words})
		req := httptest.NewRequest(http.MethodPost, "/api/user/submit", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(sessionHeader, p.SessionID)
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec = submit([]string{" defter ", "", "kalem"})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit failed with %d: %s", rec.Code, rec.Body.String())
	}
	if count := decodeJSON(t, rec)["wordCount"].(float64); count != 2 {
		t.Errorf("expected 2 stored words, got %v", count)
	}

	rec = submit([]string{"okul"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for double submit, got %d", rec.Code)
	}

	// Whitespace-only list never reaches the store.
	ts.registry.ClearSubmissions()
	rec = submit([]string{"", "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty word list, got %d", rec.Code)
	}

	// Missing session is unauthorized.
	data, _ := json.Marshal(map[string]interface{}{"words": []string{"a"}})
	anon := httptest.NewRequest(http.MethodPost, "/api/user/submit", bytes.NewReader(data))
	anon.Header.Set("Content-Type", "application/json")
	anonRec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(anonRec, anon)
	if anonRec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %d", anonRec.Code)
	}
}

func TestSubmitAcrossTestCycles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	token := ts.login(t)

	rec := ts.request(t, http.MethodPost, "/api/admin/test", token, map[string]string{"word": "kitap"})
	first := int64(decodeJSON(t, rec)["test"].(map[string]interface{})["id"].(float64))
	ts.request(t, http.MethodPost, "/api/admin/test/"+strconv.FormatInt(first, 10)+"/start", token, nil)

	p, err := ts.registry.RegisterConnection(ctx, "", "alice", "conn-1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}

	submit := func(words []string) *httptest.ResponseRecorder {
		data, _ := json.Marshal(map[string]interface{}{"words": words})
		req := httptest.NewRequest(http.MethodPost, "/api/user/submit", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(sessionHeader, p.SessionID)
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := submit([]string{"defter"}); rec.Code != http.StatusOK {
		t.Fatalf("first submission failed with %d: %s", rec.Code, rec.Body.String())
	}

	// Admin finishes the round and starts the next one while alice stays
	// connected. Her submitted state belongs to the finished round only.
	ts.request(t, http.MethodPost, "/api/admin/test/"+strconv.FormatInt(first, 10)+"/finish", token, nil)

	if ids := ts.registry.SubmittedConnectionIDs(); len(ids) != 0 {
		t.Errorf("expected no submitted connections after finish, got %v", ids)
	}

	rec = ts.request(t, http.MethodPost, "/api/admin/test", token, map[string]string{"word": "deniz"})
	second := int64(decodeJSON(t, rec)["test"].(map[string]interface{})["id"].(float64))
	ts.request(t, http.MethodPost, "/api/admin/test/"+strconv.FormatInt(second, 10)+"/start", token, nil)

	if rec := submit([]string{"dalga"}); rec.Code != http.StatusOK {
		t.Fatalf("submission to the next round failed with %d: %s", rec.Code, rec.Body.String())
	}
	if rec := submit([]string{"kum"}); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for double submit within a round, got %d", rec.Code)
	}
}

func TestUserConnectOverREST(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	testID, _ := ts.store.CreateTest(ctx, "kitap")
	_ = ts.store.StartTest(ctx, testID, time.Now())

	rec := ts.request(t, http.MethodPost, "/api/user/connect", "", map[string]string{"username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect failed with %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	token, _ := body["sessionId"].(string)
	if token == "" {
		t.Fatal("expected a session token")
	}
	if body["testActive"] != true || body["testWord"] != "kitap" {
		t.Errorf("expected active test in join response, got %v", body)
	}

	// Rejoining with the token keeps the identity.
	req := httptest.NewRequest(http.MethodPost, "/api/user/connect", bytes.NewReader([]byte(`{"username":"alice"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, token)
	again := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(again, req)
	if decodeJSON(t, again)["sessionId"] != token {
		t.Error("reconnect must keep the same session token")
	}

	rec = ts.request(t, http.MethodPost, "/api/user/connect", "", map[string]string{"username": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank username, got %d", rec.Code)
	}

	// Once the associated test finishes, the poll points at results.
	_ = ts.store.FinishTest(ctx, testID, time.Now())
	statusReq := httptest.NewRequest(http.MethodGet, "/api/user/status", nil)
	statusReq.Header.Set(sessionHeader, token)
	statusRec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(statusRec, statusReq)
	status := decodeJSON(t, statusRec)
	if status["shouldRedirect"] != true {
		t.Errorf("expected shouldRedirect after finish, got %v", status)
	}
}

func TestChartsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	testID, _ := ts.store.CreateTest(ctx, "kitap")
	_ = ts.store.StartTest(ctx, testID, time.Now())
	alice, _ := ts.store.CreateParticipant(ctx, "alice", "s1", &testID)
	bob, _ := ts.store.CreateParticipant(ctx, "bob", "s2", &testID)
	_ = ts.store.SubmitResponses(ctx, alice, testID, []string{"defter", "kalem", "okul"})
	_ = ts.store.SubmitResponses(ctx, bob, testID, []string{"Defter", "kitaplik", "sayfa"})
	_ = ts.store.FinishTest(ctx, testID, time.Now())

	id := strconv.FormatInt(testID, 10)

	rec := ts.request(t, http.MethodGet, "/api/charts/data/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("charts data failed with %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["userCount"].(float64) != 2 || body["totalWords"].(float64) != 6 {
		t.Errorf("expected 2 users and 6 words, got %v/%v", body["userCount"], body["totalWords"])
	}

	rec = ts.request(t, http.MethodGet, "/api/charts/latest", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("charts latest failed with %d", rec.Code)
	}
	latest := decodeJSON(t, rec)
	if latest["test"].(map[string]interface{})["id"].(float64) != float64(testID) {
		t.Errorf("expected latest test %d, got %v", testID, latest["test"])
	}

	rec = ts.request(t, http.MethodGet, "/api/charts/tests", "", nil)
	history := decodeJSON(t, rec)["tests"].([]interface{})
	if len(history) != 1 {
		t.Errorf("expected 1 finished test, got %d", len(history))
	}

	rec = ts.request(t, http.MethodGet, "/api/charts/timeline/"+id, "", nil)
	points := decodeJSON(t, rec)["points"].([]interface{})
	if len(points) != 6 {
		t.Errorf("expected 6 timeline points, got %d", len(points))
	}

	rec = ts.request(t, http.MethodGet, "/api/charts/export/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export failed with %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("expected CSV content type, got %q", rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\xEF\xBB\xBF")) {
		t.Error("expected UTF-8 BOM prefix")
	}
	if !strings.Contains(rec.Body.String(), "alice,defter,1") {
		t.Errorf("expected alice's first word in export, got %q", rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/charts/data/99", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown test, got %d", rec.Code)
	}
}

func TestSoftResetEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	token := ts.login(t)

	testID, _ := ts.store.CreateTest(ctx, "kitap")
	_ = ts.store.StartTest(ctx, testID, time.Now())

	rec := ts.request(t, http.MethodPost, "/api/admin/soft-reset", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("soft reset failed with %d: %s", rec.Code, rec.Body.String())
	}

	test, _ := ts.store.GetTest(ctx, testID)
	if test.Status != types.TestStatusCancelled {
		t.Errorf("expected cancelled test, got %s", test.Status)
	}

	// Admin session is untouched by a soft reset.
	rec = ts.request(t, http.MethodGet, "/api/admin/dashboard", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected admin token still valid, got %d", rec.Code)
	}
}

func TestEmergencyResetRevokesAdminTokens(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	rec := ts.request(t, http.MethodPost, "/api/admin/emergency-reset", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency reset failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/admin/dashboard", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after emergency reset, got %d", rec.Code)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	ts := newTestServer(t)
	ts.server.limiter.limit = 3

	var last int
	for i := 0; i < 4; i++ {
		rec := ts.request(t, http.MethodGet, "/api/user/status", "", nil)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 after exceeding limit, got %d", last)
	}
}
