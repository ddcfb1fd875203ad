package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mongowebapi/mongo-web-api/pkg/auth"
	"github.com/mongowebapi/mongo-web-api/pkg/metrics"
	"github.com/mongowebapi/mongo-web-api/pkg/store"
	"github.com/mongowebapi/mongo-web-api/pkg/webapi"
)

var log = logrus.New()

// serviceConfig is read from the environment.
type serviceConfig struct {
	MongoURI    string
	MongoName   string
	Port        int
	JWTSecret   string
	ThreadCount int
	LogLevel    logrus.Level
	Metrics     bool
}

func main() {
	// Readiness is detected by scanning stdout, so logs go there.
	log.SetOutput(os.Stdout)

	cfg, err := serviceConfigFromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.SetLevel(cfg.LogLevel)
	runtime.GOMAXPROCS(cfg.ThreadCount)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := store.Connect(connectCtx, cfg.MongoURI, cfg.MongoName)
	if err == nil {
		err = st.EnsureIndexes(connectCtx)
	}
	connectCancel()
	if err != nil {
		log.Fatalf("Unable to initialize database: %v", err)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Errorf("Database disconnect error: %v", err)
		}
	}()

	tokens, err := auth.NewTokens(cfg.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		log.Fatalf("Unable to initialize tokens: %v", err)
	}
	api, err := webapi.New(st, tokens, auth.Passwords{}, log.WithField("component", "api"))
	if err != nil {
		log.Fatalf("Unable to initialize API: %v", err)
	}
	if cfg.Metrics {
		api.EnableMetrics(metrics.NewRecorder(log.WithField("component", "metrics")))
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	server := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(ln)
	}()
	log.Infof("listening on http://%s", ln.Addr())

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Server stopped")
}

// serviceConfigFromEnv reads the service configuration through getenv.
func serviceConfigFromEnv(getenv func(string) string) (serviceConfig, error) {
	cfg := serviceConfig{
		MongoURI:    "mongodb://localhost:27017",
		MongoName:   "mongo-web-api",
		Port:        3000,
		JWTSecret:   "secret",
		ThreadCount: runtime.NumCPU(),
		LogLevel:    logrus.InfoLevel,
		Metrics:     getenv("DISABLE_METRICS") != "1",
	}
	if v := getenv("MONGODB_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := getenv("MONGODB_NAME"); v != "" {
		cfg.MongoName = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return serviceConfig{}, fmt.Errorf("PORT must be a port number, got %q", v)
		}
		cfg.Port = port
	}
	if v := getenv("THREAD_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return serviceConfig{}, fmt.Errorf("THREAD_COUNT must be a positive integer, got %q", v)
		}
		cfg.ThreadCount = n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}
