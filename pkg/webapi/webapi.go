// Package webapi implements the HTTP API for users and posts.
package webapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mongowebapi/mongo-web-api/pkg/auth"
	"github.com/mongowebapi/mongo-web-api/pkg/internal/utils"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/metrics"
	"github.com/mongowebapi/mongo-web-api/pkg/middleware"
	"github.com/mongowebapi/mongo-web-api/pkg/routing"
	"github.com/mongowebapi/mongo-web-api/pkg/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Store is the persistence the API needs.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (store.User, error)
	FindUserByEmail(ctx context.Context, email string) (store.User, error)
	FindUserByID(ctx context.Context, id string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	PasswordHash(ctx context.Context, userID string) (string, error)
	CreatePost(ctx context.Context, userID, title, content string) (store.Post, error)
	FindPost(ctx context.Context, id string) (store.Post, error)
	ListPosts(ctx context.Context) ([]store.Post, error)
}

// Server serves the API.
type Server struct {
	// store persists users and posts.
	store Store
	// tokens issues and verifies bearer tokens.
	tokens *auth.Tokens
	// passwords hashes credentials.
	passwords auth.Passwords
	// log is the associated logger.
	log logging.Logger

	// metrics records per-route request counts when set.
	metrics *metrics.Recorder

	register *validator
	login    *validator
	post     *validator
}

// New creates a server.
func New(st Store, tokens *auth.Tokens, passwords auth.Passwords, log logging.Logger) (*Server, error) {
	register, err := newValidator(registerSchema)
	if err != nil {
		return nil, err
	}
	login, err := newValidator(loginSchema)
	if err != nil {
		return nil, err
	}
	post, err := newValidator(postSchema)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:     st,
		tokens:    tokens,
		passwords: passwords,
		log:       log,
		register:  register,
		login:     login,
		post:      post,
	}, nil
}

// Routes lists the API routes.
func (s *Server) Routes() []routing.Route {
	return []routing.Route{
		{Pattern: "GET /status", Handler: s.handleStatus},
		{Pattern: "POST /users/register", Handler: s.handleRegister},
		{Pattern: "POST /users/login", Handler: s.handleLogin},
		{Pattern: "GET /users/me", Handler: s.handleMe},
		{Pattern: "GET /users", Handler: s.handleListUsers},
		{Pattern: "GET /users/{id}", Handler: s.handleGetUser},
		{Pattern: "GET /posts", Handler: s.handleListPosts},
		{Pattern: "POST /posts", Handler: s.handleCreatePost},
		{Pattern: "GET /posts/{id}", Handler: s.handleGetPost},
	}
}

// EnableMetrics records every API request in rec and serves rec at
// GET /metrics.
func (s *Server) EnableMetrics(rec *metrics.Recorder) {
	s.metrics = rec
}

// Handler returns the complete HTTP handler, with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := routing.NewNormalizedServeMux()
	if s.metrics == nil {
		mux.HandleRoutes(s.Routes())
	} else {
		for _, route := range s.Routes() {
			mux.Handle(route.Pattern, s.metrics.Instrument(route.Pattern, route.Handler))
		}
		mux.Handle("GET /metrics", s.metrics)
	}
	return middleware.RequestLog(s.log, middleware.CORS(nil, mux))
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

type newPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "Ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !s.decode(w, r, s.register, &creds) {
		return
	}
	hash, err := s.passwords.Hash(creds.Password)
	if err != nil {
		s.internalError(w, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), creds.Email, hash)
	if errors.Is(err, store.ErrDuplicateEmail) {
		s.writeError(w, http.StatusConflict, "Email already registered")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	s.respondWithToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !s.decode(w, r, s.login, &creds) {
		return
	}
	user, err := s.store.FindUserByEmail(r.Context(), creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debugf("login for unknown email %s", utils.SanitizeForLog(creds.Email, 100))
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	hash, err := s.store.PasswordHash(r.Context(), user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, err)
		return
	}
	if err != nil || s.passwords.Check(hash, creds.Password) != nil {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.respondWithToken(w, user)
}

func (s *Server) respondWithToken(w http.ResponseWriter, user store.User) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r, store.RoleUser)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, store.RoleAdmin); !ok {
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, store.RoleAdmin); !ok {
		return
	}
	user, err := s.store.FindUserByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPosts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r, store.RoleUser)
	if !ok {
		return
	}
	var body newPost
	if !s.decode(w, r, s.post, &body) {
		return
	}
	post, err := s.store.CreatePost(r.Context(), user.ID, body.Title, body.Content)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.FindPost(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Post not found")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, post)
}

// authorize resolves the bearer token to a user holding at least role
// required. On failure it writes a 401 and returns false.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, required store.Role) (store.User, bool) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "Not authorized")
		return store.User{}, false
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.log.Debugf("rejected token: %v", err)
		s.writeError(w, http.StatusUnauthorized, "Not authorized")
		return store.User{}, false
	}
	user, err := s.store.FindUserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusUnauthorized, "Not authorized")
		return store.User{}, false
	} else if err != nil {
		s.internalError(w, err)
		return store.User{}, false
	}
	if !user.Role.Satisfies(required) {
		s.writeError(w, http.StatusUnauthorized, "Not authorized")
		return store.User{}, false
	}
	return user, true
}

// decode validates the request body against v and decodes it into dst. On
// failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v *validator, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Unable to read request body")
		return false
	}
	if err := v.validate(body); err != nil {
		var invalid *validationError
		if errors.As(err, &invalid) {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "Invalid request body",
				"errors":  invalid.problems,
			})
			return false
		}
		s.writeError(w, http.StatusBadRequest, "Malformed JSON")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed JSON")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Errorf("request failed: %v", err)
	s.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("unable to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Debugf("unable to write response: %v", err)
	}
}
