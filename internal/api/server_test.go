// ABOUTME: End-to-end tests of the HTTP API against a real SQLite store
// ABOUTME: Covers registration, login, token rejection and cross-tenant isolation

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/convo-gateway/internal/account"
	"github.com/2389/convo-gateway/internal/auth"
	"github.com/2389/convo-gateway/internal/metrics"
	"github.com/2389/convo-gateway/internal/store"
	"github.com/2389/convo-gateway/internal/tenant"
)

var testSecret = []byte("api-end-to-end-test-secret-32by!")

type testEnv struct {
	handler http.Handler
	store   *store.SQLiteStore
	tokens  *auth.TokenService
	metrics *metrics.Metrics
	now     *time.Time
}

type envOption func(d *Deps, s *store.SQLiteStore)

func withActiveCheck(d *Deps, s *store.SQLiteStore) {
	d.Users = s
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(testSecret, auth.WithClock(func() time.Time { return now }), auth.WithIssuer("convo-test"))
	require.NoError(t, err)

	m := metrics.New()
	d := Deps{
		Accounts:    account.NewService(s, hasher, tokens, account.WithMetrics(m), account.WithClock(clock)),
		Guard:       tenant.NewGuard(s),
		Tokens:      tokens,
		Metrics:     m,
		MetricsPath: "/metrics",
		Version:     "test",
		Now:         clock,
	}
	for _, opt := range opts {
		opt(&d, s)
	}

	return &testEnv{handler: NewServer(d), store: s, tokens: tokens, metrics: m, now: &now}
}

type response struct {
	status int
	raw    string
	body   map[string]any
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) response {
	t.Helper()

	var body *bytes.Reader
	switch p := payload.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(p))
	default:
		data, err := json.Marshal(p)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	resp := response{status: rec.Code, raw: rec.Body.String()}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp.body)
	return resp
}

// register creates a user and returns its id and token.
func (e *testEnv) register(t *testing.T, email string) (string, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"name": "User " + email, "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)
	user := resp.body["user"].(map[string]any)
	return user["id"].(string), resp.body["token"].(string)
}

func dataMap(t *testing.T, r response) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "data is not an object: %s", r.raw)
	return d
}

func dataList(t *testing.T, r response) []any {
	t.Helper()
	d, ok := r.body["data"].([]any)
	require.True(t, ok, "data is not a list: %s", r.raw)
	return d
}

func flipSignatureBit(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x01
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

func TestConcreteScenario(t *testing.T) {
	e := newTestEnv(t)

	reg := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"name": "A", "email": "a@x.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, reg.status, reg.raw)
	assert.Equal(t, true, reg.body["success"])

	user := reg.body["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "password_hash")
	assert.NotContains(t, reg.raw, "$2a$")

	userA := user["id"].(string)
	tokenA := reg.body["token"].(string)
	sub, err := e.tokens.Verify(tokenA)
	require.NoError(t, err)
	assert.Equal(t, userA, sub)

	again := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"name": "A", "email": "a@x.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, again.status)
	assert.Equal(t, "email already in use", again.body["error"])

	login := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "a@x.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, login.status)
	assert.Equal(t, "invalid email or password", login.body["error"])

	created := e.do(t, http.MethodPost, "/agents", tokenA, map[string]any{"name": "Support"})
	require.Equal(t, http.StatusCreated, created.status, created.raw)
	assert.Equal(t, userA, dataMap(t, created)["owner_id"])

	_, tokenB := e.register(t, "b@x.com")
	list := e.do(t, http.MethodGet, "/agents", tokenB, nil)
	assert.Equal(t, http.StatusOK, list.status)
	assert.Empty(t, dataList(t, list))
}

func TestRegisterThenMe(t *testing.T) {
	e := newTestEnv(t)

	for _, email := range []string{"one@x.com", "two@x.com", "three@x.com"} {
		id, token := e.register(t, email)

		me := e.do(t, http.MethodGet, "/auth/me", token, nil)
		require.Equal(t, http.StatusOK, me.status, me.raw)
		user := me.body["user"].(map[string]any)
		assert.Equal(t, id, user["id"])
		assert.Equal(t, email, user["email"])
	}
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	e := newTestEnv(t)

	const n = 6
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
				"name": "Racer", "email": "Race@X.com", "password": "secret123",
			})
			statuses[i] = resp.status
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, s := range statuses {
		switch s {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestLogin_FailuresByteIdentical(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "a@x.com")

	unknown := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "ghost@x.com", "password": "secret123"})
	wrong := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "a@x.com", "password": "secret124"})

	assert.Equal(t, unknown.status, wrong.status)
	assert.Equal(t, unknown.raw, wrong.raw)
	assert.Equal(t, http.StatusUnauthorized, wrong.status)
}

func TestLogin_Success(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.register(t, "a@x.com")

	resp := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "A@X.COM", "password": "secret123"})
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Equal(t, id, resp.body["user"].(map[string]any)["id"])
	assert.NotNil(t, resp.body["user"].(map[string]any)["last_login"])

	sub, err := e.tokens.Verify(resp.body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, id, sub)
}

func TestLogin_DisabledAccount(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.register(t, "a@x.com")
	require.NoError(t, e.store.SetUserActive(context.Background(), id, false, time.Now()))

	resp := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "a@x.com", "password": "secret123"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "account disabled", resp.body["error"])
}

func TestProtectedEndpointsRejectBadTokens(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "a@x.com")

	tampered := flipSignatureBit(t, token)

	past := *e.now
	expiredSvc, err := auth.NewTokenService(testSecret,
		auth.WithClock(func() time.Time { return past.Add(-8 * 24 * time.Hour) }), auth.WithIssuer("convo-test"))
	require.NoError(t, err)
	expired, err := expiredSvc.Issue("someone")
	require.NoError(t, err)

	endpoints := []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/agents"},
		{http.MethodPost, "/agents"},
		{http.MethodGet, "/agents/x"},
		{http.MethodPut, "/agents/x"},
		{http.MethodDelete, "/agents/x"},
		{http.MethodGet, "/conversations"},
		{http.MethodPost, "/conversations"},
		{http.MethodGet, "/conversations/x"},
		{http.MethodPut, "/conversations/x"},
		{http.MethodGet, "/conversations/x/messages"},
		{http.MethodPost, "/chat/send"},
	}

	for _, ep := range endpoints {
		for name, tok := range map[string]string{"tampered": tampered, "expired": expired, "garbage": "abc.def.ghi"} {
			resp := e.do(t, ep.method, ep.path, tok, map[string]any{})
			assert.Equal(t, http.StatusUnauthorized, resp.status, "%s %s with %s token", ep.method, ep.path, name)
			assert.Equal(t, "invalid or expired token", resp.body["error"], "%s %s with %s token", ep.method, ep.path, name)
		}

		resp := e.do(t, ep.method, ep.path, "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, resp.status)
		assert.Equal(t, "authorization token required", resp.body["error"])
	}

	assert.Greater(t, testutil.ToFloat64(e.metrics.AuthFailures.WithLabelValues("signature")), float64(0))
	assert.Greater(t, testutil.ToFloat64(e.metrics.AuthFailures.WithLabelValues("expired")), float64(0))
	assert.Greater(t, testutil.ToFloat64(e.metrics.AuthFailures.WithLabelValues("missing")), float64(0))
}

func TestAgentIsolation(t *testing.T) {
	e := newTestEnv(t)
	_, tokenA := e.register(t, "a@x.com")
	_, tokenB := e.register(t, "b@x.com")

	created := e.do(t, http.MethodPost, "/agents", tokenA, map[string]any{"name": "A's agent", "model": "m"})
	require.Equal(t, http.StatusCreated, created.status)
	id := dataMap(t, created)["id"].(string)

	assert.Empty(t, dataList(t, e.do(t, http.MethodGet, "/agents", tokenB, nil)))

	get := e.do(t, http.MethodGet, "/agents/"+id, tokenB, nil)
	missing := e.do(t, http.MethodGet, "/agents/does-not-exist", tokenB, nil)
	assert.Equal(t, http.StatusNotFound, get.status)
	assert.Equal(t, missing.raw, get.raw)

	upd := e.do(t, http.MethodPut, "/agents/"+id, tokenB, map[string]any{"name": "hijacked"})
	assert.Equal(t, http.StatusNotFound, upd.status)

	del := e.do(t, http.MethodDelete, "/agents/"+id, tokenB, nil)
	assert.Equal(t, http.StatusOK, del.status)
	assert.Equal(t, false, del.body["deleted"])

	own := e.do(t, http.MethodGet, "/agents/"+id, tokenA, nil)
	require.Equal(t, http.StatusOK, own.status)
	assert.Equal(t, "A's agent", dataMap(t, own)["name"])

	ownUpd := e.do(t, http.MethodPut, "/agents/"+id, tokenA, map[string]any{"status": "inactive"})
	require.Equal(t, http.StatusOK, ownUpd.status, ownUpd.raw)
	assert.Equal(t, "inactive", dataMap(t, ownUpd)["status"])
	assert.Equal(t, "m", dataMap(t, ownUpd)["model"])

	ownDel := e.do(t, http.MethodDelete, "/agents/"+id, tokenA, nil)
	assert.Equal(t, true, ownDel.body["deleted"])

	gone := e.do(t, http.MethodDelete, "/agents/"+id, tokenA, nil)
	assert.Equal(t, http.StatusOK, gone.status)
	assert.Equal(t, false, gone.body["deleted"])
}

func TestCreateAgent_IgnoresClientOwner(t *testing.T) {
	e := newTestEnv(t)
	idA, tokenA := e.register(t, "a@x.com")
	idB, _ := e.register(t, "b@x.com")

	resp := e.do(t, http.MethodPost, "/agents", tokenA, map[string]any{
		"name": "spoof", "owner_id": idB, "user_id": idB,
	})
	require.Equal(t, http.StatusCreated, resp.status)
	assert.Equal(t, idA, dataMap(t, resp)["owner_id"])
}

func TestCreateAgent_Validation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "a@x.com")

	resp := e.do(t, http.MethodPost, "/agents", token, map[string]any{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "name is required", resp.body["error"])

	resp = e.do(t, http.MethodPost, "/agents", token, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "invalid JSON body", resp.body["error"])
}

func TestConversationsAndChat(t *testing.T) {
	e := newTestEnv(t)
	_, tokenA := e.register(t, "a@x.com")
	_, tokenB := e.register(t, "b@x.com")

	agent := dataMap(t, e.do(t, http.MethodPost, "/agents", tokenA, map[string]any{"name": "Helper"}))
	agentID := agent["id"].(string)
	foreignAgent := dataMap(t, e.do(t, http.MethodPost, "/agents", tokenB, map[string]any{"name": "Other"}))

	bad := e.do(t, http.MethodPost, "/conversations", tokenA, map[string]any{"agent_id": foreignAgent["id"]})
	assert.Equal(t, http.StatusNotFound, bad.status)

	conv := e.do(t, http.MethodPost, "/conversations", tokenA, map[string]any{"agent_id": agentID, "title": "First"})
	require.Equal(t, http.StatusCreated, conv.status, conv.raw)
	convID := dataMap(t, conv)["id"].(string)
	assert.Equal(t, "Helper", dataMap(t, conv)["agent_name"])

	_ = e.do(t, http.MethodPost, "/conversations", tokenA, map[string]any{"title": "Second", "status": "closed"})

	list := e.do(t, http.MethodGet, "/conversations?status=open", tokenA, nil)
	require.Len(t, dataList(t, list), 1)
	assert.Equal(t, convID, dataList(t, list)[0].(map[string]any)["id"])

	byAgent := e.do(t, http.MethodGet, "/conversations?agent_id="+agentID, tokenA, nil)
	assert.Len(t, dataList(t, byAgent), 1)
	assert.Empty(t, dataList(t, e.do(t, http.MethodGet, "/conversations", tokenB, nil)))

	for i, text := range []string{"hello", "**bold** move", "third"} {
		*e.now = e.now.Add(time.Second)
		sent := e.do(t, http.MethodPost, "/chat/send", tokenA, map[string]any{
			"conversationId": convID, "message": text, "agentId": agentID,
		})
		require.Equal(t, http.StatusOK, sent.status, "message %d: %s", i, sent.raw)
		assert.Equal(t, "user", dataMap(t, sent)["sender"])
	}

	intrude := e.do(t, http.MethodPost, "/chat/send", tokenB, map[string]any{"conversationId": convID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, intrude.status)
	assert.Equal(t, "conversation not found", intrude.body["error"])

	msgs := dataList(t, e.do(t, http.MethodGet, "/conversations/"+convID+"/messages", tokenA, nil))
	require.Len(t, msgs, 3)
	second := msgs[1].(map[string]any)
	assert.Equal(t, "**bold** move", second["content"])
	assert.Contains(t, second["content_html"], "<strong>bold</strong>")

	latest := dataList(t, e.do(t, http.MethodGet, "/conversations/"+convID+"/messages?limit=2", tokenA, nil))
	require.Len(t, latest, 2)
	assert.Equal(t, "**bold** move", latest[0].(map[string]any)["content"])
	assert.Equal(t, "third", latest[1].(map[string]any)["content"])

	badLimit := e.do(t, http.MethodGet, "/conversations/"+convID+"/messages?limit=zero", tokenA, nil)
	assert.Equal(t, http.StatusBadRequest, badLimit.status)

	foreign := e.do(t, http.MethodGet, "/conversations/"+convID+"/messages", tokenB, nil)
	assert.Equal(t, http.StatusNotFound, foreign.status)

	upd := e.do(t, http.MethodPut, "/conversations/"+convID, tokenA, map[string]any{"status": "archived"})
	require.Equal(t, http.StatusOK, upd.status, upd.raw)
	assert.Equal(t, "archived", dataMap(t, upd)["status"])

	updB := e.do(t, http.MethodPut, "/conversations/"+convID, tokenB, map[string]any{"status": "closed"})
	assert.Equal(t, http.StatusNotFound, updB.status)
}

func TestChatSend_EscapesRawHTML(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "a@x.com")
	conv := dataMap(t, e.do(t, http.MethodPost, "/conversations", token, map[string]any{"title": "x"}))

	sent := e.do(t, http.MethodPost, "/chat/send", token, map[string]any{
		"conversationId": conv["id"], "message": "<script>alert(1)</script>",
	})
	require.Equal(t, http.StatusOK, sent.status)
	assert.NotContains(t, dataMap(t, sent)["content_html"], "<script>")
}

func TestRequireActiveUser(t *testing.T) {
	e := newTestEnv(t, withActiveCheck)
	id, token := e.register(t, "a@x.com")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/agents", token, nil).status)

	require.NoError(t, e.store.SetUserActive(context.Background(), id, false, time.Now()))
	resp := e.do(t, http.MethodGet, "/agents", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "invalid or expired token", resp.body["error"])
}

func TestDeactivatedUserTokenStillValidByDefault(t *testing.T) {
	e := newTestEnv(t)
	id, token := e.register(t, "a@x.com")
	require.NoError(t, e.store.SetUserActive(context.Background(), id, false, time.Now()))

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/agents", token, nil).status)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	health := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, health.status)
	assert.Equal(t, true, health.body["success"])
	assert.Equal(t, "OK", health.body["status"])
	assert.Equal(t, "test", health.body["version"])
	_, err := time.Parse(time.RFC3339Nano, health.body["timestamp"].(string))
	assert.NoError(t, err)

	e.register(t, "a@x.com")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `registrations_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="POST",route="/auth/register",status="201"} 1`)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	e := newTestEnv(t)

	nf := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, nf.status)
	assert.Equal(t, false, nf.body["success"])

	na := e.do(t, http.MethodDelete, "/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, na.status)
}

func TestReadyEndpoint(t *testing.T) {
	e := newTestEnv(t, func(d *Deps, s *store.SQLiteStore) { d.Ready = s.Ping })
	resp := e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "READY", resp.body["status"])

	down := newTestEnv(t, func(d *Deps, s *store.SQLiteStore) {
		d.Ready = func(context.Context) error { return errors.New("db unreachable") }
	})
	resp = down.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, false, resp.body["success"])
}
