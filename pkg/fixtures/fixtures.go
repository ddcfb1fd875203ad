// Package fixtures creates test data against a running environment and
// wraps the environment lifecycle for tests.
package fixtures

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongowebapi/mongo-web-api/pkg/apiclient"
	"github.com/mongowebapi/mongo-web-api/pkg/config"
	"github.com/mongowebapi/mongo-web-api/pkg/environment"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/store"
)

// DefaultPassword is used when UserOptions leaves Password empty.
const DefaultPassword = "1qaz!QAZ"

// Environment is the part of an environment the helpers need.
type Environment interface {
	API(opts ...apiclient.Option) (*apiclient.Client, error)
	Database(ctx context.Context) (*mongo.Database, error)
}

// UserOptions selects the account to register. Zero fields take defaults.
type UserOptions struct {
	Email    string
	Password string
	// Role is written directly to the database after registration.
	Role store.Role
}

// RegisteredUser is the result of RegisterUser.
type RegisteredUser struct {
	Token    string
	User     store.User
	Password string
}

// Client returns an API client authenticated as the user.
func (u RegisteredUser) Client(env Environment) (*apiclient.Client, error) {
	return env.API(apiclient.WithToken(u.Token))
}

// RandomEmail returns a unique test address.
func RandomEmail() string {
	return fmt.Sprintf("test-%s@test.com", uuid.NewString())
}

// RegisterUser registers an account through the API. When opts.Role is set
// and differs from the default, the role is changed in the database and the
// returned user reflects it.
func RegisterUser(ctx context.Context, env Environment, opts UserOptions) (RegisteredUser, error) {
	if opts.Email == "" {
		opts.Email = RandomEmail()
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}

	client, err := env.API()
	if err != nil {
		return RegisteredUser{}, err
	}
	resp, err := client.Post(ctx, "/users/register", map[string]string{
		"email":    opts.Email,
		"password": opts.Password,
	})
	if err != nil {
		return RegisteredUser{}, fmt.Errorf("registering %s: %w", opts.Email, err)
	}
	var body struct {
		Token string     `json:"token"`
		User  store.User `json:"user"`
	}
	if err := resp.JSON(&body); err != nil {
		return RegisteredUser{}, fmt.Errorf("decoding registration of %s: %w", opts.Email, err)
	}

	if opts.Role != "" && opts.Role != body.User.Role {
		db, err := env.Database(ctx)
		if err != nil {
			return RegisteredUser{}, err
		}
		if err := SetRole(ctx, db, body.User.ID, opts.Role); err != nil {
			return RegisteredUser{}, err
		}
		body.User.Role = opts.Role
	}
	return RegisteredUser{Token: body.Token, User: body.User, Password: opts.Password}, nil
}

// SetRole overwrites a user's role directly in the database.
func SetRole(ctx context.Context, db *mongo.Database, userID string, role store.Role) error {
	if err := store.New(db).SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("setting role of %s to %s: %w", userID, role, err)
	}
	return nil
}

// exit ends the test binary. Replaced in tests.
var exit = os.Exit

// StartEnvironment bootstraps an environment for the duration of a test. A
// failed bootstrap fails the test; a failed shutdown leaves processes behind,
// so it aborts the whole run.
func StartEnvironment(t testing.TB, cfg config.Config, opts ...environment.Option) *environment.Environment {
	t.Helper()

	log := logging.New(cfg.LogLevel, os.Stderr, cfg.LogFormat == "json").WithField("test", t.Name())
	env, err := environment.New(cfg, log, opts...)
	if err != nil {
		t.Fatalf("invalid environment configuration: %v", err)
	}
	t.Cleanup(func() {
		shutdown(log, env)
	})
	if err := env.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrapping environment: %v", err)
	}
	return env
}

// shutdown stops env and exits the process if that fails.
func shutdown(log logging.Logger, env interface{ Shutdown(context.Context) error }) {
	if err := env.Shutdown(context.Background()); err != nil {
		log.Errorf("Environment shutdown failed, aborting: %v", err)
		exit(1)
	}
}

// AssertUnauthorized issues a request and asserts the service answered 401.
func AssertUnauthorized(t testing.TB, client *apiclient.Client, method, path string, body any) bool {
	t.Helper()
	resp, err := client.Request(t.Context(), method, path, body)
	if err == nil {
		return assert.Fail(t, "expected request to be rejected",
			"%s %s succeeded with status %d", method, path, resp.Status)
	}
	return assert.Equal(t, http.StatusUnauthorized, apiclient.StatusCode(err),
		"%s %s: %v", method, path, err)
}
