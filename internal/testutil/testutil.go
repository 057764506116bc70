// Package testutil provides shared test infrastructure: a Postgres container
// for warehouse integration tests, a quiet logger, and record fixtures.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/storage"
	"github.com/ashita-ai/kenbi/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container. Calls os.Exit(1) on failure
// (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kenbi",
			"POSTGRES_PASSWORD": "kenbi",
			"POSTGRES_DB":       "kenbi",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://kenbi:kenbi@%s:%s/kenbi?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Stack builds root-to-leaf frames from "Class#method" names. A name
// without '#' is a method without class. Frames are JIT compiled unless the
// name carries a "type:" prefix naming the raw frame type, as in
// "C++:G1YoungCollector::collect".
func Stack(names ...string) []model.StackFrame {
	out := make([]model.StackFrame, len(names))
	for i, n := range names {
		typ := "JIT compiled"
		if t, rest, ok := strings.Cut(n, ":"); ok && !strings.Contains(t, "#") && !strings.HasPrefix(rest, ":") {
			typ, n = t, rest
		}
		class, method, ok := strings.Cut(n, "#")
		if !ok {
			class, method = "", n
		}
		out[i] = model.StackFrame{ClassName: class, MethodName: method, Type: typ}
	}
	return out
}

// Execution returns an execution sample at since with the given multiplicity.
func Execution(since time.Duration, samples int64, stack ...string) *model.StackBasedRecord {
	return &model.StackBasedRecord{
		EventType:  model.EventExecutionSample,
		SinceStart: since,
		Frames:     Stack(stack...),
		Samples:    samples,
		Weight:     samples,
	}
}

// Allocation returns an allocation sample of size bytes of entity.
func Allocation(since time.Duration, size int64, entity string, stack ...string) *model.StackBasedRecord {
	return &model.StackBasedRecord{
		EventType:    model.EventObjectAllocationSample,
		SinceStart:   since,
		Frames:       Stack(stack...),
		Samples:      1,
		Weight:       size,
		WeightEntity: entity,
	}
}
