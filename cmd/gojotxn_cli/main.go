// Command gojotxn_cli runs a single gojotxn node with an interactive shell.
//
// At startup the node replays its write-ahead log, then opens a new log
// segment and reads commands. Every command runs in the same fiber, so a
// transaction started with "begin" spans the following commands until
// "commit" or "rollback".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojotxn/config"
	"github.com/sushant-115/gojotxn/core/box"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/scheduler"
	"github.com/sushant-115/gojotxn/core/storage_engine/disk"
	"github.com/sushant-115/gojotxn/core/storage_engine/memtx"
	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/sushant-115/gojotxn/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var configPath = flag.String("config", "", "Path to the YAML configuration file")

// node is a started gojotxn instance.
type node struct {
	cfg     config.Config
	logger  *zap.Logger
	tracker *recovery.Tracker
	mgr     *transaction.Manager
	box     *box.Box
	disk    *disk.Engine
	writer  *wal.Writer
}

func newNode(cfg config.Config, zlog *zap.Logger, tel *telemetry.Telemetry) (*node, error) {
	metrics, err := internaltelemetry.NewTxnMetrics(tel.Meter)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, logger: zlog}
	n.tracker = recovery.NewTracker(cfg.ReplicaID, zlog)
	n.mgr = transaction.NewManager(cfg.Txn, n.tracker, zlog,
		transaction.WithMetrics(metrics),
		transaction.WithTracer(tel.Tracer))
	n.box = box.New(n.mgr, n.tracker, zlog)

	mem := memtx.New(zlog)
	for _, sc := range cfg.Spaces {
		var (
			space *transaction.Space
			err   error
		)
		switch sc.Engine {
		case disk.EngineName:
			if n.disk == nil {
				if n.disk, err = disk.Open(cfg.Disk, zlog); err != nil {
					return nil, err
				}
			}
			space, err = n.disk.CreateSpace(sc.ID, sc.Name, sc.Temporary)
		default:
			space, err = mem.CreateSpace(sc.ID, sc.Name, sc.Temporary)
		}
		if err == nil {
			err = n.box.RegisterSpace(space)
		}
		if err != nil {
			return nil, multierr.Append(err, n.Close())
		}
	}
	return n, nil
}

// start replays the log and attaches a writer positioned after it.
func (n *node) start(f transaction.Fiber) error {
	if n.cfg.WAL.Mode == wal.ModeNone {
		n.logger.Warn("Running without a write-ahead log, commits are not durable")
		return nil
	}
	if _, err := n.box.Recover(f, n.cfg.WAL.Dir); err != nil {
		return err
	}
	writer, err := wal.NewWriter(n.cfg.WAL, n.tracker.Vclock(), n.logger)
	if err != nil {
		return err
	}
	n.writer = writer
	n.mgr.SetLogWriter(writer)
	return nil
}

// Close detaches and closes the writer, then the disk engine.
func (n *node) Close() error {
	var err error
	if n.writer != nil {
		n.mgr.SetLogWriter(nil)
		err = multierr.Append(err, n.writer.Close())
	}
	if n.disk != nil {
		err = multierr.Append(err, n.disk.Close())
	}
	return err
}

func runShell(n *node, f transaction.Fiber) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".gojotxn_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojotxn> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("begin"), readline.PcItem("begin2pc"), readline.PcItem("prepare"),
			readline.PcItem("commit"), readline.PcItem("rollback"),
			readline.PcItem("insert"), readline.PcItem("replace"), readline.PcItem("delete"),
			readline.PcItem("get"), readline.PcItem("select"),
			readline.PcItem("spaces"), readline.PcItem("status"),
			readline.PcItem("help"), readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{box: n.box, tracker: n.tracker, fiber: f, out: rl.Stdout()}
	fmt.Fprintln(sh.out, "gojotxn CLI. Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !sh.exec(line) {
			break
		}
	}
	// Leaving the shell abandons any open transaction.
	if err := n.box.Rollback(f); err != nil {
		n.logger.Warn("Failed to roll back the open transaction", zap.Error(err))
	}
	return nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlog.Error("Failed to shut down telemetry", zap.Error(err))
		}
	}()

	n, err := newNode(cfg, zlog, tel)
	if err != nil {
		zlog.Fatal("Failed to create node", zap.Error(err))
	}

	sched := scheduler.New(zlog)
	sched.Go("shell", func(f *scheduler.Fiber) error {
		if err := n.start(f); err != nil {
			return err
		}
		return runShell(n, f)
	})
	runErr := sched.Wait()
	if err := multierr.Append(runErr, n.Close()); err != nil {
		zlog.Error("Node stopped with an error", zap.Error(err))
		os.Exit(1)
	}
}
