// Package wal implements the write-ahead log writer: a single goroutine that
// appends transaction rows to segment files, syncs them, and resolves the
// requests waiting on the write.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ModeWrite = "write"
	ModeNone  = "none"
)

var (
	ErrWriterClosed = errors.New("wal writer is closed")
	ErrIO           = errors.New("wal i/o error")
)

// Config controls the log writer.
type Config struct {
	// Mode is "write" for a durable log or "none" to run without one.
	Mode string `yaml:"mode"`
	// Dir holds the log segments.
	Dir string `yaml:"dir"`
	// SegmentSizeLimit rolls the log to a new segment once exceeded.
	SegmentSizeLimit int64 `yaml:"segment_size_limit"`
	// QueueSize bounds the number of requests waiting for the writer.
	QueueSize int `yaml:"queue_size"`
	// Fsync syncs every batch to stable storage before acknowledging it.
	Fsync bool `yaml:"fsync"`
}

// DefaultConfig returns the writer defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeWrite,
		Dir:              "data/wal",
		SegmentSizeLimit: 64 * 1024 * 1024,
		QueueSize:        1024,
		Fsync:            true,
	}
}

// Writer serializes all durable writes of the node. Requests submitted
// concurrently are written in arrival order; a batch of requests waiting at
// the same time is flushed and synced together.
type Writer struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex // protects closed and sends on queue
	closed   bool
	queue    chan *Request
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Owned by the writer goroutine.
	file        *os.File
	buf         *bufio.Writer
	segmentID   uint64
	segmentSize int64
	vclock      recovery.Vclock
	errinj      func() error
}

// NewWriter opens a fresh segment in cfg.Dir and starts the writer goroutine.
// start is the vclock the log continues from, normally the one recovered at
// startup.
func NewWriter(cfg Config, start recovery.Vclock, logger *zap.Logger) (*Writer, error) {
	if cfg.SegmentSizeLimit <= 0 {
		return nil, fmt.Errorf("wal segment size limit must be positive")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create wal directory %s: %w", cfg.Dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	segments, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:      cfg,
		logger:   logger.Named("wal_writer"),
		queue:    make(chan *Request, cfg.QueueSize),
		stopChan: make(chan struct{}),
		vclock:   start.Copy(),
	}
	if len(segments) > 0 {
		w.segmentID = segments[len(segments)-1].id
	}
	if err := w.openNextSegment(); err != nil {
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("WAL writer started",
		zap.String("dir", cfg.Dir),
		zap.Uint64("segmentID", w.segmentID),
		zap.String("vclock", w.vclock.String()),
		zap.String("segmentLimit", humanize.IBytes(uint64(cfg.SegmentSizeLimit))))
	return w, nil
}

// Submit queues req for writing. The caller waits on req.Done().
func (w *Writer) Submit(req *Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		req.Complete(-1, ErrWriterClosed)
		return
	}
	w.queue <- req
}

// Close writes out every request already queued, then closes the segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()

	var err error
	if w.buf != nil {
		err = multierr.Append(err, w.buf.Flush())
	}
	if w.file != nil {
		err = multierr.Append(err, w.file.Sync())
		err = multierr.Append(err, w.file.Close())
		w.file = nil
	}
	w.logger.Info("WAL writer closed", zap.String("vclock", w.vclock.String()), zap.Error(err))
	return err
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.queue:
			w.writeBatch(w.collect(req))
		case <-w.stopChan:
			for {
				select {
				case req := <-w.queue:
					w.writeBatch(w.collect(req))
				default:
					return
				}
			}
		}
	}
}

// collect gathers every request already waiting behind first.
func (w *Writer) collect(first *Request) []*Request {
	batch := []*Request{first}
	for {
		select {
		case req := <-w.queue:
			batch = append(batch, req)
		default:
			return batch
		}
	}
}

func (w *Writer) writeBatch(batch []*Request) {
	startSize := w.segmentSize
	written := int64(0)
	var err error
	if w.errinj != nil {
		err = w.errinj()
	}
	if err == nil {
		var frame []byte
		for _, req := range batch {
			for _, row := range req.Rows {
				frame = xrow.AppendFrame(frame[:0], row)
				if _, err = w.buf.Write(frame); err != nil {
					break
				}
				written += int64(len(frame))
			}
			if err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.buf.Flush()
	}
	if err == nil && w.cfg.Fsync {
		err = w.file.Sync()
	}
	if err != nil {
		w.failBatch(batch, startSize, err)
		return
	}

	w.segmentSize += written
	for _, req := range batch {
		if ferr := w.advance(req); ferr != nil {
			req.Complete(-1, ferr)
			continue
		}
		req.Complete(w.vclock.Sum(), nil)
	}

	if w.segmentSize >= w.cfg.SegmentSizeLimit {
		if err := w.rollSegment(); err != nil {
			w.logger.Error("Failed to roll WAL segment", zap.Uint64("segmentID", w.segmentID), zap.Error(err))
		}
	}
}

func (w *Writer) advance(req *Request) error {
	for _, row := range req.Rows {
		if err := w.vclock.Follow(row.ReplicaID, row.LSN); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	return nil
}

// failBatch fails the batch and everything queued behind it: those
// transactions were built on top of the failed ones and must roll back too.
func (w *Writer) failBatch(batch []*Request, startSize int64, cause error) {
	w.logger.Error("WAL write failed, rolling back queued requests",
		zap.Int("requests", len(batch)), zap.Uint64("segmentID", w.segmentID), zap.Error(cause))
	w.buf.Reset(w.file)
	if err := w.file.Truncate(startSize); err != nil {
		w.logger.Error("Failed to truncate WAL segment after write failure", zap.Error(err))
	} else if _, err := w.file.Seek(startSize, io.SeekStart); err != nil {
		w.logger.Error("Failed to seek WAL segment after write failure", zap.Error(err))
	}
	werr := fmt.Errorf("%w: %v", ErrIO, cause)
	for _, req := range batch {
		req.Complete(-1, werr)
	}
	for {
		select {
		case req := <-w.queue:
			req.Complete(-1, werr)
		default:
			return
		}
	}
}

func (w *Writer) rollSegment() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush segment %d: %w", w.segmentID, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %d: %w", w.segmentID, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment %d: %w", w.segmentID, err)
	}
	w.logger.Info("Rolled WAL segment",
		zap.Uint64("segmentID", w.segmentID),
		zap.String("size", humanize.IBytes(uint64(w.segmentSize))))
	return w.openNextSegment()
}

func (w *Writer) openNextSegment() error {
	w.segmentID++
	path := segmentPath(w.cfg.Dir, w.segmentID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open wal segment %s: %w", path, err)
	}
	w.file = file
	w.buf = bufio.NewWriter(file)
	w.segmentSize = 0
	return nil
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("log_%05d.log", id))
}

type segmentInfo struct {
	id   uint64
	path string
}

func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read wal directory %s: %w", dir, err)
	}
	var segments []segmentInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "log_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "log_"), ".log"), 10, 64)
		if err != nil {
			continue
		}
		segments = append(segments, segmentInfo{id: id, path: filepath.Join(dir, name)})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].id < segments[j].id })
	return segments, nil
}
