// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(0)
//	    }
//	    tc := testutil.MustStartPostgres()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    tc.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mlop-ai/monitor/internal/storage"
	"github.com/mlop-ai/monitor/migrations"
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
			"POSTGRES_USER":     "mlop",
			"POSTGRES_PASSWORD": "mlop",
			"POSTGRES_DB":       "mlop",
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

	dsn := fmt.Sprintf("postgres://mlop:mlop@%s:%s/mlop?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
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

// Fixture is an organization with one member, one project and helpers to
// create runs in it.
type Fixture struct {
	OrgID     string
	OrgSlug   string
	ProjectID int64
	Project   string
}

// NewFixture creates an organization named slug with the given member emails
// and a project called "vision".
func NewFixture(ctx context.Context, db *storage.DB, slug string, emails ...string) (Fixture, error) {
	orgID, err := db.CreateOrganization(ctx, slug, slug)
	if err != nil {
		return Fixture{}, err
	}
	for _, e := range emails {
		if err := db.AddMember(ctx, orgID, e); err != nil {
			return Fixture{}, err
		}
	}
	projectID, err := db.CreateProject(ctx, orgID, "vision")
	if err != nil {
		return Fixture{}, err
	}
	return Fixture{OrgID: orgID, OrgSlug: slug, ProjectID: projectID, Project: "vision"}, nil
}
