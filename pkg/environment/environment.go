// Package environment brings up the service under test against a throwaway
// database and tears both down again.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongowebapi/mongo-web-api/pkg/apiclient"
	"github.com/mongowebapi/mongo-web-api/pkg/config"
	"github.com/mongowebapi/mongo-web-api/pkg/dbsandbox"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/portalloc"
	"github.com/mongowebapi/mongo-web-api/pkg/sandbox"
	"github.com/mongowebapi/mongo-web-api/pkg/supervisor"
)

// serviceName labels the service process in logs and echoed output.
const serviceName = "service"

// DatabaseSandbox is the database the service is pointed at.
type DatabaseSandbox interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
	URL() (string, error)
	Database(ctx context.Context) (*mongo.Database, error)
}

// Option customizes an Environment.
type Option func(*Environment)

// WithDatabaseSandbox replaces the sandbox built from the configuration.
func WithDatabaseSandbox(db DatabaseSandbox) Option {
	return func(e *Environment) {
		e.db = db
	}
}

// WithPortAllocator replaces portalloc.GetFreePort.
func WithPortAllocator(allocate portalloc.Allocator) Option {
	return func(e *Environment) {
		e.allocate = allocate
	}
}

// WithEcho sets where service output is echoed when echo is enabled.
func WithEcho(stdout, stderr io.Writer) Option {
	return func(e *Environment) {
		e.echo = stdout
		e.echoErr = stderr
	}
}

// Environment is one database sandbox plus one service process.
type Environment struct {
	// cfg is the validated configuration.
	cfg config.Config
	// argv is the parsed service command.
	argv []string
	// bufferSize caps retained service output.
	bufferSize int
	// log is the associated logger.
	log logging.Logger
	// db is the database sandbox.
	db DatabaseSandbox
	// allocate picks the service port.
	allocate portalloc.Allocator
	// echo and echoErr receive service output when cfg.Echo is set.
	echo    io.Writer
	echoErr io.Writer

	lock sync.Mutex
	// active is set from the start of Bootstrap until Shutdown.
	active bool
	// dbStarted records a successful sandbox start.
	dbStarted bool
	process   *supervisor.Handle
	port      int
	serverURL string
}

// New creates an environment from cfg. Nothing is started until Bootstrap.
func New(cfg config.Config, log logging.Logger, opts ...Option) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	argv, err := cfg.ServiceArgv()
	if err != nil {
		return nil, err
	}
	bufferSize, err := cfg.BufferBytes()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	e := &Environment{
		cfg:        cfg,
		argv:       argv,
		bufferSize: bufferSize,
		log:        logging.Component(log, "environment"),
		allocate:   portalloc.GetFreePort,
		echo:       os.Stdout,
		echoErr:    os.Stderr,
	}
	for _, o := range opts {
		o(e)
	}
	if e.db == nil {
		var dbEcho io.Writer
		if cfg.Echo {
			dbEcho = e.echo
		}
		db, err := dbsandbox.NewFromConfig(cfg.Database, logging.Component(log, "dbsandbox"), dbEcho)
		if err != nil {
			return nil, err
		}
		e.db = db
	}
	return e, nil
}

// Bootstrap starts the database sandbox, picks a port for the service,
// launches it and waits for the configured readiness policy. The first
// failing step's error is returned as is and later steps are skipped.
// Whatever was started stays owned by the environment until Shutdown.
func (e *Environment) Bootstrap(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.active {
		return ErrAlreadyBootstrapped
	}
	e.active = true

	dbURL, err := e.db.Start(ctx)
	if err != nil {
		return err
	}
	e.dbStarted = true

	port, err := e.allocate(ctx)
	if err != nil {
		return err
	}
	e.port = port

	handle, err := supervisor.Start(ctx, e.serviceSpec(dbURL, port))
	if err != nil {
		return err
	}
	e.process = handle

	if err := handle.AwaitReady(ctx, readinessPolicy(e.cfg.Service.Readiness)); err != nil {
		return err
	}

	e.serverURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	e.log.Infof("Environment ready at %s", e.serverURL)
	return nil
}

// serviceSpec describes the service process for a database URL and port.
func (e *Environment) serviceSpec(dbURL string, port int) supervisor.Spec {
	env := []string{
		"MONGODB_URI=" + dbURL,
		"MONGODB_NAME=" + e.cfg.Database.Name,
		"PORT=" + strconv.Itoa(port),
		"THREAD_COUNT=" + strconv.Itoa(e.cfg.Service.ThreadCount),
	}
	keys := make([]string, 0, len(e.cfg.Service.Env))
	for k := range e.cfg.Service.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.cfg.Service.Env[k])
	}

	spec := supervisor.Spec{
		Name:          serviceName,
		Command:       e.argv[0],
		Args:          e.argv[1:],
		Dir:           e.cfg.Service.Dir,
		Env:           env,
		BufferSize:    e.bufferSize,
		Configuration: sandbox.ConfigurationService,
		Log:           e.log,
	}
	if e.cfg.Echo {
		spec.Echo = e.echo
		spec.EchoErr = e.echoErr
	}
	return spec
}

// readinessPolicy maps the configured policy onto the supervisor's.
func readinessPolicy(r config.ReadinessConfig) supervisor.Policy {
	switch r.Policy {
	case config.PolicyOutput:
		return supervisor.OutputMatch{
			Pattern:  r.Pattern,
			Interval: r.Interval.Duration,
			Timeout:  r.Timeout.Duration,
		}
	case config.PolicyNone:
		return supervisor.Immediate()
	default:
		return supervisor.FixedDelay(r.Delay.Duration)
	}
}

// Shutdown kills the service, waits a bounded time for it to exit and stops
// the database sandbox. Both steps are attempted even if one fails, and their
// errors are joined. Calling Shutdown again, or before Bootstrap, does
// nothing.
func (e *Environment) Shutdown(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.active {
		return nil
	}

	var errs []error
	if e.process != nil {
		e.process.Kill()
		waitCtx, cancel := context.WithTimeout(ctx, e.cfg.Service.ShutdownTimeout.Duration)
		if err := e.process.WaitExit(waitCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if e.dbStarted {
		if err := e.db.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping database sandbox: %w", err))
		}
	}

	e.active = false
	e.dbStarted = false
	e.process = nil
	e.port = 0
	e.serverURL = ""

	err := errors.Join(errs...)
	if err != nil {
		e.log.Warnf("Environment shutdown incomplete: %v", err)
	} else {
		e.log.Infoln("Environment shut down")
	}
	return err
}

// ServerURL returns the base URL of the running service.
func (e *Environment) ServerURL() (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.serverURL == "" {
		return "", ErrNotBootstrapped
	}
	return e.serverURL, nil
}

// Port returns the service port.
func (e *Environment) Port() (int, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.serverURL == "" {
		return 0, ErrNotBootstrapped
	}
	return e.port, nil
}

// DatabaseURL returns the connection string of the database sandbox.
func (e *Environment) DatabaseURL() (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.dbStarted {
		return "", ErrNotBootstrapped
	}
	return e.db.URL()
}

// API returns a client for the running service.
func (e *Environment) API(opts ...apiclient.Option) (*apiclient.Client, error) {
	url, err := e.ServerURL()
	if err != nil {
		return nil, err
	}
	return apiclient.New(url, opts...), nil
}

// Database returns the handle of the sandboxed database the service uses.
func (e *Environment) Database(ctx context.Context) (*mongo.Database, error) {
	e.lock.Lock()
	started := e.dbStarted
	e.lock.Unlock()
	if !started {
		return nil, ErrNotBootstrapped
	}
	return e.db.Database(ctx)
}

// Process returns the service process, or nil when none is running.
func (e *Environment) Process() *supervisor.Handle {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.process
}
