package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/repository/memory"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

const (
	VectorsFileName = "memory_vectors.bin"
	RecordsFileName = "memories.json"
	LogFileName     = "memories.log"

	// DefaultCompactEvery is the number of log entries after which the
	// snapshot files are rewritten and the log is truncated.
	DefaultCompactEvery = 256
)

// Vault is a disk-persisted memory vault. Every Add is appended to an
// fsync'd log before it returns; the log is folded into the snapshot files
// (vectors + index-aligned records) every compactEvery entries and on Close.
type Vault struct {
	mu           sync.Mutex
	dir          string
	index        *memory.Vault
	log          *os.File
	logSize      int64
	pending      int
	compactEvery int
	closed       bool
	readOnly     bool
	memOpts      []memory.Option
}

var _ interfaces.VaultRepository = &Vault{}

// logEntry is one line of memories.log
type logEntry struct {
	Record    *model.MemoryRecord `json:"record"`
	Embedding []float32           `json:"embedding"`
}

// Option configures a Vault
type Option func(*Vault)

// WithCompactEvery sets the compaction threshold. Zero or negative disables
// compaction until Close.
func WithCompactEvery(n int) Option {
	return func(v *Vault) {
		v.compactEvery = n
	}
}

// WithReadOnly opens the vault for queries only. Nothing on disk is created
// or modified, and Add and Compact fail with ErrReadOnly.
func WithReadOnly() Option {
	return func(v *Vault) {
		v.readOnly = true
	}
}

// WithClock overrides the clock used for record creation timestamps
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.memOpts = append(v.memOpts, memory.WithClock(now))
	}
}

// New opens the vault stored in dir, creating the directory if needed, and
// rebuilds the in-memory index from the snapshot files and the log.
func New(ctx context.Context, dir string, dimension int, opts ...Option) (*Vault, error) {
	v := &Vault{
		dir:          dir,
		compactEvery: DefaultCompactEvery,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.index = memory.New(dimension, v.memOpts...)

	if v.readOnly {
		if err := v.load(ctx); err != nil {
			return nil, err
		}
		logging.From(ctx).Info("Opened memory vault read-only", "dir", dir, "memories", v.index.Count())
		return v, nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, goerr.Wrap(err, "failed to create vault directory", goerr.V(PathKey, dir))
	}

	if err := v.load(ctx); err != nil {
		return nil, err
	}

	// #nosec G304 - path is built from the configured vault directory
	f, err := os.OpenFile(v.path(LogFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vault log", goerr.V(PathKey, v.path(LogFileName)))
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, goerr.Wrap(err, "failed to stat vault log", goerr.V(PathKey, v.path(LogFileName)))
	}
	v.log = f
	v.logSize = info.Size()

	logging.From(ctx).Info("Loaded memory vault",
		"dir", dir,
		"memories", v.index.Count(),
		"pending_log_entries", v.pending,
	)
	return v, nil
}

func (v *Vault) path(name string) string {
	return filepath.Join(v.dir, name)
}

// snapshotGap describes snapshot files cut off between their two
// replacements during compaction. The shorter file is a prefix of the longer
// one, so the log must supply every entry past the shared prefix.
type snapshotGap struct {
	vectors int
	records int
	missing []model.MemoryID
}

func (v *Vault) load(ctx context.Context) error {
	gap, err := v.loadSnapshot()
	if err != nil {
		return err
	}
	if err := v.replayLog(ctx); err != nil {
		return err
	}
	if gap == nil {
		return nil
	}

	covered := v.index.Count() >= gap.vectors
	for _, id := range gap.missing {
		if !v.index.Has(id) {
			covered = false
			break
		}
	}
	if !covered {
		return goerr.Wrap(ErrCorruption, "vectors and records disagree in length",
			goerr.V(VectorsKey, gap.vectors), goerr.V(RecordsKey, gap.records), goerr.V(PathKey, v.dir))
	}

	logging.From(ctx).Warn("Rebuilt interrupted vault snapshot from log",
		"dir", v.dir, "vectors", gap.vectors, "records", gap.records, "memories", v.index.Count())
	return nil
}

func (v *Vault) loadSnapshot() (*snapshotGap, error) {
	vectorsPath := v.path(VectorsFileName)
	recordsPath := v.path(RecordsFileName)

	vectorsExist, err := fileExists(vectorsPath)
	if err != nil {
		return nil, err
	}
	recordsExist, err := fileExists(recordsPath)
	if err != nil {
		return nil, err
	}

	switch {
	case !vectorsExist && !recordsExist:
		return nil, nil
	case vectorsExist != recordsExist:
		return nil, goerr.Wrap(ErrCorruption, "only one of the snapshot files exists",
			goerr.V(VectorsKey, vectorsExist), goerr.V(RecordsKey, recordsExist), goerr.V(PathKey, v.dir))
	}

	// #nosec G304 - path is built from the configured vault directory
	vf, err := os.Open(vectorsPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vectors file", goerr.V(PathKey, vectorsPath))
	}
	defer vf.Close()

	info, err := vf.Stat()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat vectors file", goerr.V(PathKey, vectorsPath))
	}
	dimension, rows, err := decodeVectors(vf, info.Size())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode vectors file", goerr.V(PathKey, vectorsPath))
	}
	if dimension != v.index.Dimension() {
		return nil, goerr.Wrap(ErrCorruption, "vectors file dimension differs from configuration",
			goerr.V(DimensionKey, dimension), goerr.V("configured", v.index.Dimension()), goerr.V(PathKey, vectorsPath))
	}

	// #nosec G304 - path is built from the configured vault directory
	raw, err := os.ReadFile(recordsPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read records file", goerr.V(PathKey, recordsPath))
	}
	var records []*model.MemoryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, goerr.Wrap(ErrCorruption, "failed to decode records file",
			goerr.V(PathKey, recordsPath), goerr.V("cause", err.Error()))
	}

	var gap *snapshotGap
	if len(records) != len(rows) {
		gap = &snapshotGap{vectors: len(rows), records: len(records)}
		n := min(len(records), len(rows))
		for i, rec := range records[n:] {
			if rec == nil {
				return nil, goerr.Wrap(ErrCorruption, "records file contains null entry", goerr.V("position", n+i))
			}
			gap.missing = append(gap.missing, rec.ID)
		}
		records, rows = records[:n], rows[:n]
	}

	for i, rec := range records {
		if rec == nil {
			return nil, goerr.Wrap(ErrCorruption, "records file contains null entry", goerr.V("position", i))
		}
		rec.Embedding = rows[i]
		if rec.Associations == nil {
			rec.Associations = []model.MemoryID{}
		}
		if err := v.index.Insert(rec); err != nil {
			return nil, goerr.Wrap(ErrCorruption, "failed to index snapshot record",
				goerr.V("position", i), goerr.V("cause", err.Error()))
		}
	}
	return gap, nil
}

func (v *Vault) replayLog(ctx context.Context) error {
	logPath := v.path(LogFileName)

	// #nosec G304 - path is built from the configured vault directory
	data, err := os.ReadFile(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to read vault log", goerr.V(PathKey, logPath))
	}

	var offset int
	line := 0
	for offset < len(data) {
		line++
		end := bytes.IndexByte(data[offset:], '\n')
		if end < 0 {
			// A final line without newline is a write that never completed.
			logging.From(ctx).Warn("Discarding torn vault log entry",
				"path", logPath, "line", line, "bytes", len(data)-offset)
			if v.readOnly {
				break
			}
			if err := os.Truncate(logPath, int64(offset)); err != nil {
				return goerr.Wrap(err, "failed to truncate torn vault log", goerr.V(PathKey, logPath))
			}
			break
		}

		raw := bytes.TrimSpace(data[offset : offset+end])
		offset += end + 1
		if len(raw) == 0 {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Record == nil {
			return goerr.Wrap(ErrCorruption, "malformed vault log entry",
				goerr.V(PathKey, logPath), goerr.V(LineKey, line))
		}
		v.pending++

		if v.index.Has(entry.Record.ID) {
			continue
		}
		entry.Record.Embedding = entry.Embedding
		if entry.Record.Associations == nil {
			entry.Record.Associations = []model.MemoryID{}
		}
		if err := v.index.Insert(entry.Record); err != nil {
			return goerr.Wrap(ErrCorruption, "failed to index vault log entry",
				goerr.V(LineKey, line), goerr.V("cause", err.Error()))
		}
	}
	return nil
}

func (v *Vault) Add(ctx context.Context, embedding []float32, payload model.MemoryPayload) (model.MemoryID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return "", goerr.Wrap(ErrClosed, "cannot add memory")
	}
	if v.readOnly {
		return "", goerr.Wrap(ErrReadOnly, "cannot add memory")
	}

	rec, err := v.index.NewRecord(embedding, payload)
	if err != nil {
		return "", err
	}

	line, err := json.Marshal(logEntry{Record: rec, Embedding: rec.Embedding})
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode memory", goerr.V("memory_id", rec.ID))
	}
	line = append(line, '\n')

	if _, err := v.log.Write(line); err != nil {
		v.rewindLog(ctx)
		return "", goerr.Wrap(err, "failed to append memory to vault log", goerr.V("memory_id", rec.ID))
	}
	if err := v.log.Sync(); err != nil {
		v.rewindLog(ctx)
		return "", goerr.Wrap(err, "failed to sync vault log", goerr.V("memory_id", rec.ID))
	}
	v.logSize += int64(len(line))
	v.pending++

	if err := v.index.Insert(rec); err != nil {
		return "", err
	}

	if v.compactEvery > 0 && v.pending >= v.compactEvery {
		// The record is already durable in the log; a failed compaction is retried next time.
		if err := v.compactLocked(); err != nil {
			logging.From(ctx).Warn("Vault compaction failed", "error", err, "pending", v.pending)
		}
	}

	return rec.ID, nil
}

// rewindLog drops a partially written entry so later appends stay line aligned
func (v *Vault) rewindLog(ctx context.Context) {
	if err := v.log.Truncate(v.logSize); err != nil {
		logging.From(ctx).Error("Failed to rewind vault log", "error", err, "size", v.logSize)
	}
}

// Compact folds the log into the snapshot files
func (v *Vault) Compact(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return goerr.Wrap(ErrClosed, "cannot compact vault")
	}
	if v.readOnly {
		return goerr.Wrap(ErrReadOnly, "cannot compact vault")
	}
	return v.compactLocked()
}

func (v *Vault) compactLocked() error {
	records := v.index.Records()
	rows := make([][]float32, len(records))
	for i, rec := range records {
		rows[i] = rec.Embedding
	}

	vectors, err := encodeVectors(v.index.Dimension(), rows)
	if err != nil {
		return goerr.Wrap(err, "failed to encode vectors snapshot")
	}
	metadata, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode records snapshot")
	}

	if err := renameio.WriteFile(v.path(VectorsFileName), vectors, 0o600); err != nil {
		return goerr.Wrap(err, "failed to write vectors snapshot", goerr.V(PathKey, v.path(VectorsFileName)))
	}
	if err := renameio.WriteFile(v.path(RecordsFileName), metadata, 0o600); err != nil {
		return goerr.Wrap(err, "failed to write records snapshot", goerr.V(PathKey, v.path(RecordsFileName)))
	}

	if err := v.log.Truncate(0); err != nil {
		return goerr.Wrap(err, "failed to truncate vault log", goerr.V(PathKey, v.path(LogFileName)))
	}
	if err := v.log.Sync(); err != nil {
		return goerr.Wrap(err, "failed to sync vault log", goerr.V(PathKey, v.path(LogFileName)))
	}
	v.logSize = 0
	v.pending = 0
	return nil
}

func (v *Vault) Get(ctx context.Context, id model.MemoryID) (*model.MemoryRecord, error) {
	return v.index.Get(ctx, id)
}

func (v *Vault) Search(ctx context.Context, query []float32, k int) ([]*model.MemoryRecord, error) {
	return v.index.Search(ctx, query, k)
}

func (v *Vault) Count() int {
	return v.index.Count()
}

func (v *Vault) Dimension() int {
	return v.index.Dimension()
}

// Close compacts outstanding log entries and closes the log file
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	if v.readOnly {
		return nil
	}

	var compactErr error
	if v.pending > 0 {
		compactErr = v.compactLocked()
	}
	if err := v.log.Close(); err != nil {
		return goerr.Wrap(err, "failed to close vault log")
	}
	if compactErr != nil {
		return goerr.Wrap(compactErr, "failed to compact vault on close")
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, goerr.Wrap(err, "failed to stat vault file", goerr.V(PathKey, path))
	}
}
