package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongowebapi/mongo-web-api/pkg/apiclient"
	"github.com/mongowebapi/mongo-web-api/pkg/config"
	"github.com/mongowebapi/mongo-web-api/pkg/environment"
	"github.com/mongowebapi/mongo-web-api/pkg/fixtures"
	"github.com/mongowebapi/mongo-web-api/pkg/store"
)

// startEnvironment boots the service from the module root and waits for its
// listening line.
func startEnvironment(t *testing.T) *environment.Environment {
	t.Helper()
	if os.Getenv("TESTENV_E2E") == "" {
		t.Skip("set TESTENV_E2E=1 to run end-to-end tests")
	}

	cfg, err := config.Load(os.Getenv("TESTENV_CONFIG"))
	require.NoError(t, err)
	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)
	cfg.Service.Dir = root
	cfg.Service.Readiness = config.ReadinessConfig{
		Policy:   config.PolicyOutput,
		Pattern:  "listening on",
		Interval: config.Duration{Duration: 100 * time.Millisecond},
		Timeout:  config.Duration{Duration: 2 * time.Minute},
	}
	return fixtures.StartEnvironment(t, cfg)
}

func api(t *testing.T, env *environment.Environment, opts ...apiclient.Option) *apiclient.Client {
	t.Helper()
	client, err := env.API(opts...)
	require.NoError(t, err)
	return client
}

func TestStatus(t *testing.T) {
	env := startEnvironment(t)

	resp, err := api(t, env).Get(t.Context(), "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	var body map[string]string
	require.NoError(t, resp.JSON(&body))
	assert.Equal(t, map[string]string{"status": "Ok"}, body)
}

func TestRegister(t *testing.T) {
	env := startEnvironment(t)

	resp, err := api(t, env).Post(t.Context(), "/users/register", map[string]string{
		"email":    "test@email.com",
		"password": "password123",
	})
	require.NoError(t, err)

	var body struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	require.NoError(t, resp.JSON(&body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "test@email.com", body.User["email"])
	assert.Equal(t, "User", body.User["role"])
	assert.NotEmpty(t, body.User["_id"])
	assert.NotContains(t, body.User, "password")
}

func TestLoginUnknownUser(t *testing.T) {
	env := startEnvironment(t)

	_, err := api(t, env).Post(t.Context(), "/users/login", map[string]string{
		"email":    "nobody@test.com",
		"password": "password123",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiclient.StatusCode(err))

	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.NotEmpty(t, apiErr.Message)
}

func TestLoginExistingUser(t *testing.T) {
	env := startEnvironment(t)
	user, err := fixtures.RegisterUser(t.Context(), env, fixtures.UserOptions{})
	require.NoError(t, err)

	resp, err := api(t, env).Post(t.Context(), "/users/login", map[string]string{
		"email":    user.User.Email,
		"password": user.Password,
	})
	require.NoError(t, err)

	var body struct {
		Token string     `json:"token"`
		User  store.User `json:"user"`
	}
	require.NoError(t, resp.JSON(&body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, user.User, body.User)
}

func TestMe(t *testing.T) {
	env := startEnvironment(t)
	user, err := fixtures.RegisterUser(t.Context(), env, fixtures.UserOptions{})
	require.NoError(t, err)

	resp, err := api(t, env, apiclient.WithToken(user.Token)).Get(t.Context(), "/users/me")
	require.NoError(t, err)
	var me store.User
	require.NoError(t, resp.JSON(&me))
	assert.Equal(t, user.User, me)

	fixtures.AssertUnauthorized(t, api(t, env), http.MethodGet, "/users/me", nil)
}

func TestListUsersRequiresAdmin(t *testing.T) {
	env := startEnvironment(t)
	admin, err := fixtures.RegisterUser(t.Context(), env, fixtures.UserOptions{Role: store.RoleAdmin})
	require.NoError(t, err)
	user, err := fixtures.RegisterUser(t.Context(), env, fixtures.UserOptions{})
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, admin.User.Role)

	resp, err := api(t, env, apiclient.WithToken(admin.Token)).Get(t.Context(), "/users")
	require.NoError(t, err)
	var users []store.User
	require.NoError(t, resp.JSON(&users))
	assert.Len(t, users, 2)
	assert.ElementsMatch(t, []string{admin.User.ID, user.User.ID}, []string{users[0].ID, users[1].ID})

	fixtures.AssertUnauthorized(t, api(t, env, apiclient.WithToken(user.Token)), http.MethodGet, "/users", nil)
}

func TestPosts(t *testing.T) {
	env := startEnvironment(t)

	resp, err := api(t, env).Get(t.Context(), "/posts")
	require.NoError(t, err)
	var posts []store.Post
	require.NoError(t, resp.JSON(&posts))
	assert.Empty(t, posts)

	newPost := map[string]string{"title": "Hello", "content": "World"}
	fixtures.AssertUnauthorized(t, api(t, env), http.MethodPost, "/posts", newPost)

	user, err := fixtures.RegisterUser(t.Context(), env, fixtures.UserOptions{})
	require.NoError(t, err)
	resp, err = api(t, env, apiclient.WithToken(user.Token)).Post(t.Context(), "/posts", newPost)
	require.NoError(t, err)
	var post store.Post
	require.NoError(t, resp.JSON(&post))
	assert.Equal(t, user.User.ID, post.UserID)
	assert.Equal(t, "Hello", post.Title)

	resp, err = api(t, env).Get(t.Context(), "/posts/"+post.ID)
	require.NoError(t, err)
	var fetched store.Post
	require.NoError(t, resp.JSON(&fetched))
	assert.Equal(t, post, fetched)
}
