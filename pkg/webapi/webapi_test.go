package webapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mongowebapi/mongo-web-api/pkg/auth"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/metrics"
	"github.com/mongowebapi/mongo-web-api/pkg/store"
)

// memStore is an in-memory Store.
type memStore struct {
	lock   sync.Mutex
	nextID int
	users  []store.User
	hashes map[string]string
	posts  []store.Post
}

func newMemStore() *memStore {
	return &memStore{hashes: map[string]string{}}
}

func (m *memStore) id() string {
	m.nextID++
	return fmt.Sprintf("%024x", m.nextID)
}

func (m *memStore) CreateUser(_ context.Context, email, hash string) (store.User, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return store.User{}, store.ErrDuplicateEmail
		}
	}
	u := store.User{ID: m.id(), Email: email, Role: store.RoleUser}
	m.users = append(m.users, u)
	m.hashes[u.ID] = hash
	return u, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (store.User, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) FindUserByID(_ context.Context, id string) (store.User, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) ListUsers(context.Context) ([]store.User, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]store.User{}, m.users...), nil
}

func (m *memStore) PasswordHash(_ context.Context, userID string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	h, ok := m.hashes[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return h, nil
}

func (m *memStore) CreatePost(_ context.Context, userID, title, content string) (store.Post, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	p := store.Post{ID: m.id(), Title: title, Content: content, UserID: userID}
	m.posts = append(m.posts, p)
	return p, nil
}

func (m *memStore) FindPost(_ context.Context, id string) (store.Post, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, p := range m.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return store.Post{}, store.ErrNotFound
}

func (m *memStore) ListPosts(context.Context) ([]store.Post, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]store.Post{}, m.posts...), nil
}

func (m *memStore) promote(id string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].Role = store.RoleAdmin
		}
	}
}

type harness struct {
	t       *testing.T
	store   *memStore
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	st := newMemStore()
	srv, err := New(st, tokens, auth.Passwords{Cost: bcrypt.MinCost}, logging.Discard())
	require.NoError(t, err)
	return &harness{t: t, store: st, handler: srv.Handler()}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) register(email, password string) authResponse {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/users/register", "", credentials{Email: email, Password: password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp authResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/users/register", "", credentials{Email: "test@email.com", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "test@email.com", user["email"])
	assert.Equal(t, "User", user["role"])
	assert.NotEmpty(t, user["_id"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "password_hash")
}

func TestRegisterRejects(t *testing.T) {
	h := newHarness(t)
	h.register("taken@test.com", "password123")

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "duplicate", body: credentials{Email: "taken@test.com", Password: "password123"}, wantStatus: http.StatusConflict},
		{name: "bad email", body: credentials{Email: "nope", Password: "password123"}, wantStatus: http.StatusBadRequest},
		{name: "short password", body: credentials{Email: "a@test.com", Password: "123"}, wantStatus: http.StatusBadRequest},
		{name: "missing password", body: map[string]string{"email": "a@test.com"}, wantStatus: http.StatusBadRequest},
		{name: "not json", body: "{{{", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/users/register", "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[map[string]any](t, rec)["message"])
		})
	}
}

func TestValidationErrorsListed(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/users/register", "", map[string]string{"email": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "Invalid request body", body["message"])
	assert.NotEmpty(t, body["errors"])
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	registered := h.register("login@test.com", "1qaz!QAZ")

	rec := h.do(http.MethodPost, "/users/login", "", credentials{Email: "login@test.com", Password: "1qaz!QAZ"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[authResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, registered.User, resp.User)

	rec = h.do(http.MethodPost, "/users/login", "", credentials{Email: "login@test.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodPost, "/users/login", "", credentials{Email: "ghost@test.com", Password: "1qaz!QAZ"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	reg := h.register("me@test.com", "password123")

	rec := h.do(http.MethodGet, "/users/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reg.User, decodeBody[store.User](t, rec))

	for _, token := range []string{"", "garbage"} {
		rec = h.do(http.MethodGet, "/users/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Not authorized"}`, rec.Body.String())
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@test.com", "password123")
	user := h.register("user@test.com", "password123")
	h.store.promote(admin.User.ID)

	rec := h.do(http.MethodGet, "/users", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]store.User](t, rec)
	require.Len(t, users, 2)
	emails := []string{users[0].Email, users[1].Email}
	assert.ElementsMatch(t, []string{"admin@test.com", "user@test.com"}, emails)

	rec = h.do(http.MethodGet, "/users", user.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodGet, "/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/users/"+user.User.ID, admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.User, decodeBody[store.User](t, rec))
	rec = h.do(http.MethodGet, "/users/"+admin.User.ID, user.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodGet, "/users/missing", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPosts(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = h.do(http.MethodPost, "/posts", "", newPost{Title: "t", Content: "c"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	reg := h.register("author@test.com", "password123")
	rec = h.do(http.MethodPost, "/posts", reg.Token, newPost{Title: "Hello", Content: "World"})
	require.Equal(t, http.StatusOK, rec.Code)
	post := decodeBody[store.Post](t, rec)
	assert.Equal(t, reg.User.ID, post.UserID)
	assert.Equal(t, "Hello", post.Title)
	assert.NotEmpty(t, post.ID)

	rec = h.do(http.MethodPost, "/posts", reg.Token, map[string]string{"content": "no title"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/posts/"+post.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, post, decodeBody[store.Post](t, rec))

	rec = h.do(http.MethodGet, "/posts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/posts", "", nil)
	assert.Len(t, decodeBody[[]store.Post](t, rec), 1)
}

func TestMetrics(t *testing.T) {
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	srv, err := New(newMemStore(), tokens, auth.Passwords{Cost: bcrypt.MinCost}, logging.Discard())
	require.NoError(t, err)
	rec := metrics.NewRecorder(nil)
	srv.EnableMetrics(rec)
	h := &harness{t: t, handler: srv.Handler()}

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/users", "", nil).Code)
	assert.Equal(t, uint64(1), rec.Count(http.MethodGet, "GET /status", http.StatusOK))
	assert.Equal(t, uint64(1), rec.Count(http.MethodGet, "GET /users", http.StatusUnauthorized))

	resp := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `http_requests_total{method="GET",route="GET /status",status="200"} 1`)
}
