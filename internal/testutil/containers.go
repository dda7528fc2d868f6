// Package testutil starts the backing services integration and e2e tests run
// against: Postgres with pgvector, an S3 compatible object store and Redis.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/kbindex/internal/database"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage     = "pgvector/pgvector:0.8.1-pg18"
	rustfsImage = "rustfs/rustfs:latest"
	redisImage  = "redis:7-alpine"

	pgCredential = "kbindex"

	RustFSAccessKey = "rustfsadmin"
	RustFSSecretKey = "rustfsadmin"
)

// Service is a started container and the host port its main port maps to.
type Service struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func (s *Service) Terminate(ctx context.Context) error {
	if s.Container == nil {
		return nil
	}
	return s.Container.Terminate(context.Background())
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) Service {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get %s port %s: %v", req.Image, port, err)
	}
	return Service{Container: c, Host: host, Port: mapped.Port()}
}

type PostgresContainer struct {
	Service
	User     string
	Password string
	Database string
}

func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	svc := start(ctx, t, testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCredential,
			"POSTGRES_PASSWORD": pgCredential,
			"POSTGRES_DB":       pgCredential,
		},
		// the entrypoint restarts the server once after initdb
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}, "5432")
	return &PostgresContainer{Service: svc, User: pgCredential, Password: pgCredential, Database: pgCredential}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database)
}

type RustFSContainer struct {
	Service
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	svc := start(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSAccessKey,
			"RUSTFS_SECRET_KEY": RustFSSecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000")
	return &RustFSContainer{Service: svc}
}

func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

type RedisContainer struct {
	Service
}

func NewRedisContainer(ctx context.Context, t *testing.T) *RedisContainer {
	svc := start(ctx, t, testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")
	return &RedisContainer{Service: svc}
}

func (rc *RedisContainer) Addr() string {
	return rc.Host + ":" + rc.Port
}

// NewTestPool applies the migrations in migrationsDir with the same migrator
// the daemon uses and returns a pool on the migrated database. The vector
// table is not part of the migrations; tests create it through the vector
// store.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	dir, err := filepath.Abs(migrationsDir)
	if err != nil {
		t.Fatalf("failed to resolve migrations dir: %v", err)
	}

	var pool *pgxpool.Pool
	for attempt := 1; ; attempt++ {
		pool, err = database.NewPool(ctx, database.Config{URL: pc.ConnectionString(), ConnectTimeout: 5 * time.Second})
		if err == nil {
			break
		}
		if attempt == 5 {
			t.Fatalf("failed to connect to test database: %v", err)
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}

	if _, err := database.Migrate(pc.ConnectionString(), "file://"+dir, logger.Nop()); err != nil {
		pool.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return pool
}
