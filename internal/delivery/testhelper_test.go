//go:build integration

package delivery

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/newsletter/internal/config"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/storage"
)

var (
	sharedDB    *storage.DB
	pgContainer testcontainers.Container
)

// TestMain sets up a shared PostgreSQL container for all integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	var err error
	pgContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())

	sharedDB, err = storage.NewDB(ctx, config.DatabaseConfig{
		URL:               dsn,
		PoolMin:           2,
		PoolMax:           10,
		ConnectTimeout:    10 * time.Second,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	if err := sharedDB.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	sharedDB.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}

	os.Exit(code)
}

// resetTables truncates the mutable tables so each test starts clean.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := sharedDB.Pool.Exec(context.Background(),
		`TRUNCATE issue_delivery_queue, newsletter_issues, subscriptions CASCADE`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

// seedSubscriber inserts one subscriber row and returns its id.
func seedSubscriber(t *testing.T, email, name, status string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := sharedDB.Pool.Exec(context.Background(), `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, now(), $4)`,
		id, email, name, status)
	if err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	return id
}

// seedIssueWithFanOut publishes an issue for all confirmed subscribers and
// returns the issue id and the snapshot count.
func seedIssueWithFanOut(t *testing.T, title string) (uuid.UUID, int64) {
	t.Helper()
	ctx := context.Background()

	tx, err := sharedDB.Pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	issueID, count, err := issue.NewStore(sharedDB.Pool).CreateWithFanOut(
		ctx, tx, title, "<p>body</p>", "body")
	if err != nil {
		t.Fatalf("create issue with fan-out: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return issueID, count
}

// issueCounters reads the delivery counters of an issue.
func issueCounters(t *testing.T, issueID uuid.UUID) (subscribers, delivered, failed int32) {
	t.Helper()
	err := sharedDB.Pool.QueryRow(context.Background(), `
		SELECT COALESCE(subscribers_at_publish, 0),
		       COALESCE(delivered_count, 0),
		       COALESCE(failed_count, 0)
		FROM newsletter_issues
		WHERE newsletter_issue_id = $1`, issueID).
		Scan(&subscribers, &delivered, &failed)
	if err != nil {
		t.Fatalf("read issue counters: %v", err)
	}
	return subscribers, delivered, failed
}

// queueDepth counts remaining tasks.
func queueDepth(t *testing.T) int64 {
	t.Helper()
	var count int64
	err := sharedDB.Pool.QueryRow(context.Background(),
		`SELECT count(*) FROM issue_delivery_queue`).Scan(&count)
	if err != nil {
		t.Fatalf("count queue: %v", err)
	}
	return count
}

// makeEligibleNow rewinds all execute_after timestamps so postponed tasks
// become claimable without waiting out their backoff.
func makeEligibleNow(t *testing.T) {
	t.Helper()
	_, err := sharedDB.Pool.Exec(context.Background(),
		`UPDATE issue_delivery_queue SET execute_after = now() - interval '1 second'`)
	if err != nil {
		t.Fatalf("rewind execute_after: %v", err)
	}
}
