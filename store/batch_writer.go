package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// BatchWriter streams rows into outDir/tmp and moves the finished file into
// outDir on Finalize. It is safe for concurrent use.
type BatchWriter[T any] struct {
	mu sync.Mutex

	outDir  string
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[T]

	bufferedEpisodes int
	bufferedRows     int
}

// NewBatchWriter opens a new batch file named prefix_<nanos>.parquet.
func NewBatchWriter[T any](outDir, prefix, schema string) (*BatchWriter[T], error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d.parquet", prefix, time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	outPath := filepath.Join(absOut, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[T](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", schema)

	return &BatchWriter[T]{
		outDir:  absOut,
		tmpPath: tmpPath,
		outPath: outPath,
		file:    f,
		writer:  w,
	}, nil
}

func (b *BatchWriter[T]) TmpPath() string { return b.tmpPath }
func (b *BatchWriter[T]) OutPath() string { return b.outPath }

func (b *BatchWriter[T]) BufferedRows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedRows
}

func (b *BatchWriter[T]) WriteRows(rows []T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer == nil || b.file == nil {
		return fmt.Errorf("batch writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	b.bufferedRows += len(rows)
	return nil
}

// NoteEpisodeWritten counts an episode whose rows are complete.
func (b *BatchWriter[T]) NoteEpisodeWritten() {
	b.mu.Lock()
	b.bufferedEpisodes++
	b.mu.Unlock()
}

// Finalize closes the parquet writer and moves the file from tmp/ to outDir.
// If no rows were written, the tmp file is removed and outPath is returned empty.
func (b *BatchWriter[T]) Finalize() (outPath string, rows int, episodes int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer == nil && b.file == nil {
		return "", 0, 0, nil
	}

	rows = b.bufferedRows
	episodes = b.bufferedEpisodes
	outPath = b.outPath

	var closeErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	var fileErr error
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", 0, 0, fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, rows, episodes, nil
}
