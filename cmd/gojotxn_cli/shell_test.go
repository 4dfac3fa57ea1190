package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/config"
	"github.com/sushant-115/gojotxn/core/scheduler"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"go.uber.org/zap/zaptest"
)

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.WAL.Dir = filepath.Join(dir, "wal")
	cfg.WAL.Fsync = false
	cfg.Disk.Path = filepath.Join(dir, "disk.db")
	cfg.Disk.CacheSize = 1 << 20
	return cfg
}

// runCommands starts a node on dir, feeds it the commands and returns what
// the shell printed.
func runCommands(t *testing.T, dir string, commands ...string) string {
	t.Helper()
	n, err := newNode(testConfig(dir), zaptest.NewLogger(t), telemetry.Noop())
	require.NoError(t, err)

	var out bytes.Buffer
	sched := scheduler.New(zaptest.NewLogger(t))
	sched.Go("shell", func(f *scheduler.Fiber) error {
		if err := n.start(f); err != nil {
			return err
		}
		sh := &shell{box: n.box, tracker: n.tracker, fiber: f, out: &out}
		for _, cmd := range commands {
			if !sh.exec(cmd) {
				break
			}
		}
		return n.box.Rollback(f)
	})
	require.NoError(t, sched.Wait())
	require.NoError(t, n.Close())
	return out.String()
}

func TestShell_TransactionCommands(t *testing.T) {
	out := runCommands(t, t.TempDir(),
		"begin",
		"insert users alice 1",
		"insert users bob two words",
		"status",
		"commit",
		"get users bob",
		"select users",
		"get users nobody",
	)

	require.Contains(t, out, "state=ACTIVE engine=memtx statements=2 rows=2")
	require.Contains(t, out, "bob = two words")
	require.Contains(t, out, "(2 tuples)")
	require.Contains(t, out, "(not found)")
	require.NotContains(t, out, "Error")
}

func TestShell_ReportsErrors(t *testing.T) {
	out := runCommands(t, t.TempDir(),
		"insert users alice 1",
		"insert users alice 2",
		"begin",
		"begin",
		"insert users carol 3",
		"insert ledger entry 10",
		"commit",
		"frobnicate",
		"insert nosuchspace k v",
		"get users",
	)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var errs []string
	for _, line := range lines {
		if strings.HasPrefix(line, "Error: ") {
			errs = append(errs, line)
		}
	}
	require.Len(t, errs, 6)
	require.Contains(t, errs[0], "duplicate key exists")
	require.Contains(t, errs[1], "active transaction")
	require.Contains(t, errs[2], "belongs to disk")
	require.Contains(t, errs[3], "unknown command")
	require.Contains(t, errs[4], "no such space")
	require.Contains(t, errs[5], "get requires")
}

func TestShell_TwoPhaseAndRestart(t *testing.T) {
	dir := t.TempDir()
	out := runCommands(t, dir,
		"begin2pc 42 7",
		"replace users alice 1",
		"prepare",
		"commit",
		"insert ledger entry 10",
		"insert scratch tmp x",
		"spaces",
		"exit",
		"insert users never 1",
	)
	require.NotContains(t, out, "Error")
	require.Contains(t, out, "513\tscratch\tmemtx (temporary)")

	out = runCommands(t, dir,
		"select users",
		"get ledger entry",
		"get scratch tmp",
		"status",
	)
	require.Contains(t, out, "alice = 1")
	require.NotContains(t, out, "never")
	require.Contains(t, out, "entry = 10")
	require.Contains(t, out, "(not found)")
	require.Contains(t, out, "no active transaction")
	require.Contains(t, out, "vclock {1: 2}, signature 2")
}
