package dbsandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/mongowebapi/mongo-web-api/pkg/logging"
	"github.com/mongowebapi/mongo-web-api/pkg/portalloc"
	"github.com/mongowebapi/mongo-web-api/pkg/sandbox"
	"github.com/mongowebapi/mongo-web-api/pkg/supervisor"
)

// mongodReadyPattern is printed by mongod once it accepts connections.
const mongodReadyPattern = "Waiting for connections"

// mongodStopTimeout bounds the wait for mongod to exit on Stop.
const mongodStopTimeout = 10 * time.Second

// Engine runs a throwaway MongoDB server.
type Engine interface {
	// Name identifies the engine in errors and logs.
	Name() string
	// Start brings the server up and returns its connection URL.
	Start(ctx context.Context) (string, error)
	// Stop tears the server down and discards its data.
	Stop(ctx context.Context) error
}

// MongodEngine runs a local mongod binary against a temporary data
// directory on a free loopback port.
type MongodEngine struct {
	// Binary is the mongod executable.
	Binary string
	// StartTimeout bounds the wait for mongod to accept connections.
	StartTimeout time.Duration
	// Allocator picks the listening port.
	Allocator portalloc.Allocator
	// Echo receives mongod output. May be nil.
	Echo io.Writer
	// Log is the associated logger.
	Log logging.Logger

	dataDir string
	process *supervisor.Handle
}

// Name implements Engine.Name.
func (e *MongodEngine) Name() string {
	return "mongod"
}

// Start implements Engine.Start.
func (e *MongodEngine) Start(ctx context.Context) (string, error) {
	allocate := e.Allocator
	if allocate == nil {
		allocate = portalloc.GetFreePort
	}
	port, err := allocate(ctx)
	if err != nil {
		return "", err
	}
	dataDir, err := os.MkdirTemp("", "testenv-mongod-")
	if err != nil {
		return "", fmt.Errorf("unable to create data directory: %w", err)
	}

	binary := e.Binary
	if binary == "" {
		binary = "mongod"
	}
	process, err := supervisor.Spawn(ctx, supervisor.Spec{
		Name:    "mongod",
		Command: binary,
		Args: []string{
			"--dbpath", dataDir,
			"--port", strconv.Itoa(port),
			"--bind_ip", "127.0.0.1",
			"--wiredTigerCacheSizeGB", "0.25",
		},
		Echo:          e.Echo,
		EchoErr:       e.Echo,
		BufferSize:    1 << 20,
		Configuration: sandbox.ConfigurationDatabase,
		Log:           e.Log,
	}, supervisor.OutputMatch{Pattern: mongodReadyPattern, Timeout: e.StartTimeout})
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return "", err
	}
	e.dataDir = dataDir
	e.process = process
	return fmt.Sprintf("mongodb://127.0.0.1:%d/", port), nil
}

// Stop implements Engine.Stop.
func (e *MongodEngine) Stop(ctx context.Context) error {
	e.process.Kill()
	ctx, cancel := context.WithTimeout(ctx, mongodStopTimeout)
	defer cancel()
	waitErr := e.process.WaitExit(ctx)
	e.process = nil

	var removeErr error
	if e.dataDir != "" {
		removeErr = os.RemoveAll(e.dataDir)
		e.dataDir = ""
	}
	if waitErr != nil {
		return waitErr
	}
	return removeErr
}

// ContainerEngine runs MongoDB in a disposable container.
type ContainerEngine struct {
	// Image is the MongoDB image reference.
	Image string
	// Log is the associated logger.
	Log logging.Logger

	container *mongodb.MongoDBContainer
}

// Name implements Engine.Name.
func (e *ContainerEngine) Name() string {
	return "container"
}

// Start implements Engine.Start.
func (e *ContainerEngine) Start(ctx context.Context) (string, error) {
	image := e.Image
	if image == "" {
		image = "mongo:7"
	}
	var opts []testcontainers.ContainerCustomizer
	if e.Log != nil {
		opts = append(opts, testcontainers.WithLogger(e.Log))
	}
	container, err := mongodb.Run(ctx, image, opts...)
	if err != nil {
		return "", fmt.Errorf("unable to run %s: %w", image, err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(context.WithoutCancel(ctx))
		return "", fmt.Errorf("unable to resolve connection string: %w", err)
	}
	if e.Log != nil {
		e.Log.Infof("MongoDB container %s is ready", container.GetContainerID())
	}
	e.container = container
	return url, nil
}

// Stop implements Engine.Stop.
func (e *ContainerEngine) Stop(ctx context.Context) error {
	if e.container == nil {
		return nil
	}
	err := e.container.Terminate(ctx)
	e.container = nil
	return err
}
