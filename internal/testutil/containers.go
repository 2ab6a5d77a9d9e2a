// Package testutil starts the Postgres and S3 containers used by the
// integration tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/mnemo/internal/database"
)

const (
	pgvectorImage = "pgvector/pgvector:0.8.1-pg18"
	pgCredential  = "mnemo"

	rustfsImage = "rustfs/rustfs:latest"
	// RustFSCredential is both the access key and the secret key.
	RustFSCredential = "rustfsadmin"
)

// Container is a started container reachable at Host:Port.
type Container struct {
	testcontainers.Container
	Host string
	Port string
}

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(c.Container)
}

// start runs req and resolves the mapped port. The container is terminated
// when the test ends.
func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) *Container {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s port %s: %v", req.Image, port, err)
	}
	return &Container{Container: c, Host: host, Port: mapped.Port()}
}

// PostgresContainer is a pgvector-enabled Postgres.
type PostgresContainer struct {
	*Container
}

// NewPostgresContainer starts Postgres with the pgvector extension available.
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	c := start(ctx, t, testcontainers.ContainerRequest{
		Image:        pgvectorImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCredential,
			"POSTGRES_PASSWORD": pgCredential,
			"POSTGRES_DB":       pgCredential,
		},
		// the entrypoint restarts postgres once after initdb
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(time.Minute),
	}, "5432")
	return &PostgresContainer{Container: c}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pgCredential, pgCredential, pc.Host, pc.Port, pgCredential)
}

// RustFSContainer is an S3-compatible object store.
type RustFSContainer struct {
	*Container
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	c := start(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSCredential,
			"RUSTFS_SECRET_KEY": RustFSCredential,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000")
	return &RustFSContainer{Container: c}
}

func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

// NewTestPool connects to pc, retrying while the server finishes booting,
// and applies the migrations in migrationsDir.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()

	url := pc.ConnectionString()
	var (
		pool *pgxpool.Pool
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		if pool, err = database.NewPool(ctx, database.Config{URL: url, MaxConns: 8}); err == nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("connect to %s: %v", url, err)
	}

	if err := RunMigrations(url, migrationsDir); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// RunMigrations applies every up migration in migrationsDir.
func RunMigrations(databaseURL, migrationsDir string) error {
	abs, err := filepath.Abs(migrationsDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", migrationsDir, err)
	}
	_, err = database.Migrate(databaseURL, "file://"+filepath.ToSlash(abs))
	return err
}

// TruncateAll empties every table, children first.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `TRUNCATE TABLE decision_audit_entries, decisions, edges, entities, chunks CASCADE`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// NewMigratedPostgres starts a pgvector container and returns a migrated
// pool that is closed when the test ends.
func NewMigratedPostgres(ctx context.Context, t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	pool := NewTestPool(ctx, t, NewPostgresContainer(ctx, t), migrationsDir)
	t.Cleanup(pool.Close)
	return pool
}
