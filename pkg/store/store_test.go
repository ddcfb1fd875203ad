package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleSatisfies(t *testing.T) {
	tests := []struct {
		role, required Role
		want           bool
	}{
		{RoleUser, RoleUser, true},
		{RoleAdmin, RoleUser, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleUser, RoleAdmin, false},
		{Role(""), RoleUser, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.Satisfies(tt.required), "%q satisfies %q", tt.role, tt.required)
	}
}

// TestStoreAgainstMongo runs against the server in TESTENV_MONGODB_URI.
func TestStoreAgainstMongo(t *testing.T) {
	uri := os.Getenv("TESTENV_MONGODB_URI")
	if uri == "" {
		t.Skip("set TESTENV_MONGODB_URI to run store tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Connect(ctx, uri, "store-test-"+time.Now().Format("150405.000000"))
	require.NoError(t, err)
	defer func() {
		_ = s.users.Database().Drop(context.Background())
		_ = s.Close(context.Background())
	}()
	require.NoError(t, s.EnsureIndexes(ctx))
	require.NoError(t, s.Ping(ctx))

	user, err := s.CreateUser(ctx, "a@test.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, user.Role)
	assert.Len(t, user.ID, 24)

	_, err = s.CreateUser(ctx, "a@test.com", "hash")
	require.ErrorIs(t, err, ErrDuplicateEmail)

	found, err := s.FindUserByEmail(ctx, "a@test.com")
	require.NoError(t, err)
	assert.Equal(t, user, found)

	hash, err := s.PasswordHash(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash", hash)

	require.NoError(t, s.SetRole(ctx, user.ID, RoleAdmin))
	found, err = s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, found.Role)
	require.ErrorIs(t, s.SetRole(ctx, "missing", RoleAdmin), ErrNotFound)

	_, err = s.FindUserByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	posts, err := s.ListPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.NotNil(t, posts)

	post, err := s.CreatePost(ctx, user.ID, "title", "content")
	require.NoError(t, err)
	got, err := s.FindPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post, got)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
