// Package dbsandbox manages a disposable MongoDB instance and a single shared
// connection to it.
package dbsandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mongowebapi/mongo-web-api/pkg/config"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
)

// Manager owns one database sandbox.
type Manager struct {
	// engine runs the server.
	engine Engine
	// dbName is the database handed out by Database.
	dbName string
	// log is the associated logger.
	log logging.Logger

	lock    sync.Mutex
	started bool
	url     string
	client  *mongo.Client
	db      *mongo.Database
}

// New creates a manager around engine.
func New(engine Engine, dbName string, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		engine: engine,
		dbName: dbName,
		log:    log,
	}
}

// NewFromConfig selects the engine named by cfg. Engine output is echoed to
// echo when it is non-nil.
func NewFromConfig(cfg config.DatabaseConfig, log logging.Logger, echo io.Writer) (*Manager, error) {
	if log == nil {
		log = logging.Discard()
	}
	var engine Engine
	switch cfg.Engine {
	case config.EngineMongod:
		engine = &MongodEngine{
			Binary:       cfg.Binary,
			StartTimeout: cfg.StartTimeout.Duration,
			Echo:         echo,
			Log:          log,
		}
	case config.EngineContainer:
		engine = &ContainerEngine{Image: cfg.Image, Log: log}
	default:
		return nil, fmt.Errorf("unknown database engine %q", cfg.Engine)
	}
	return New(engine, cfg.Name, log), nil
}

// Start brings the database up and returns its connection URL.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.started {
		return "", ErrSandboxAlreadyStarted
	}
	url, err := m.engine.Start(ctx)
	if err != nil {
		return "", &SandboxStartError{Engine: m.engine.Name(), Err: err}
	}
	m.started = true
	m.url = url
	m.log.Infof("Database sandbox listening at %s", url)
	return url, nil
}

// Stop closes the shared connection, stops the server and clears the URL.
// Stopping a sandbox that is not running does nothing.
func (m *Manager) Stop(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.started {
		return nil
	}
	var errs []error
	if m.client != nil {
		if err := m.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to disconnect: %w", err))
		}
	}
	if err := m.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to stop %s: %w", m.engine.Name(), err))
	}
	m.started = false
	m.url = ""
	m.client = nil
	m.db = nil
	m.log.Infoln("Database sandbox stopped")
	return errors.Join(errs...)
}

// URL returns the connection URL of the running sandbox.
func (m *Manager) URL() (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.started {
		return "", ErrSandboxNotStarted
	}
	return m.url, nil
}

// Started reports whether the sandbox is running.
func (m *Manager) Started() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.started
}

// Name returns the database name handed out by Database.
func (m *Manager) Name() string {
	return m.dbName
}

// Database returns the named database on the sandbox. The first call
// connects; later calls reuse that connection until Stop.
func (m *Manager) Database(ctx context.Context) (*mongo.Database, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.started {
		return nil, ErrSandboxNotStarted
	}
	if m.db != nil {
		return m.db, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.url))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	m.client = client
	m.db = client.Database(m.dbName)
	return m.db, nil
}
