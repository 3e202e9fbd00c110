package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestConn starts a throwaway ClickHouse server and applies the schema.
// Skipped with -short.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.Run(ctx, "clickhouse/clickhouse-server:24.8-alpine",
		testcontainers.WithExposedPorts("9000/tcp"),
		testcontainers.WithEnv(map[string]string{
			"CLICKHOUSE_DB":                        "xwm",
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("9000/tcp").WithStartupTimeout(90*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "clickhouse")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("%s/xwm", endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	applySchema(t, conn)
	return conn
}

// applySchema runs every statement of the ClickHouse migrations. The files
// are read from disk because the migrations package imports this one.
func applySchema(t *testing.T, conn *Conn) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, f := range files {
		raw, err := os.ReadFile(f)
		require.NoError(t, err)

		var kept []string
		for _, line := range strings.Split(string(raw), "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				kept = append(kept, line)
			}
		}
		for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				require.NoError(t, conn.Exec(context.Background(), stmt), "apply %s", filepath.Base(f))
			}
		}
	}
}
