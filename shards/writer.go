// Package shards persists encoded preference examples to parquet shard files,
// rotating shards at a row budget and maintaining a flock-guarded manifest
// with the aggregated run statistics.
package shards

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/gomlx/go-preference/dpo"
)

// Row is the parquet schema of one encoded example: the six fixed-length
// integer rows in their canonical order, plus the document index within the
// run for traceability.
type Row struct {
	DocIndex              int64   `parquet:"doc_index"`
	ChosenInputIDs        []int32 `parquet:"chosen_input_ids,list"`
	ChosenAttentionMask   []int32 `parquet:"chosen_attention_mask,list"`
	ChosenLabels          []int32 `parquet:"chosen_labels,list"`
	RejectedInputIDs      []int32 `parquet:"rejected_input_ids,list"`
	RejectedAttentionMask []int32 `parquet:"rejected_attention_mask,list"`
	RejectedLabels        []int32 `parquet:"rejected_labels,list"`
}

// Manifest describes a completed run: the shard files written and the summed
// per-document stats.
type Manifest struct {
	Shards []string  `json:"shards"`
	Stats  dpo.Stats `json:"stats"`
}

// Options configures a Writer.
type Options struct {
	// MaxRowsPerShard rotates to a new shard file after this many rows.
	// Default 8192.
	MaxRowsPerShard int
	// Prefix names shard files "<prefix>-<uuid>.parquet". Default "shard".
	Prefix string
}

func (o Options) withDefaults() Options {
	if o.MaxRowsPerShard == 0 {
		o.MaxRowsPerShard = 8192
	}
	if o.Prefix == "" {
		o.Prefix = "shard"
	}
	return o
}

// Writer accumulates examples into parquet shards under a directory. It is
// safe for concurrent use.
type Writer struct {
	dir  string
	opts Options

	mu       sync.Mutex
	file     *os.File
	pw       *parquet.GenericWriter[Row]
	rows     int
	shards   []string
	stats    dpo.Stats
	docIndex int64
	closed   bool
}

// NewWriter creates the output directory if needed and returns a Writer.
func NewWriter(dir string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %q", dir)
	}
	return &Writer{dir: dir, opts: opts.withDefaults()}, nil
}

// Write records the stats of one Encode call and, when the document was not
// discarded, appends its example to the current shard.
func (w *Writer) Write(example *dpo.Example, stats dpo.Stats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.Errorf("writer is closed")
	}

	w.stats.Add(stats)
	doc := w.docIndex
	w.docIndex++
	if example == nil {
		return nil
	}

	if w.pw == nil {
		if err := w.openShardLocked(); err != nil {
			return err
		}
	}
	row := Row{
		DocIndex:              doc,
		ChosenInputIDs:        example.ChosenInputIDs,
		ChosenAttentionMask:   example.ChosenAttentionMask,
		ChosenLabels:          example.ChosenLabels,
		RejectedInputIDs:      example.RejectedInputIDs,
		RejectedAttentionMask: example.RejectedAttentionMask,
		RejectedLabels:        example.RejectedLabels,
	}
	if _, err := w.pw.Write([]Row{row}); err != nil {
		return errors.Wrapf(err, "failed to write row to shard %q", w.file.Name())
	}
	w.rows++
	if w.rows >= w.opts.MaxRowsPerShard {
		return w.closeShardLocked()
	}
	return nil
}

// Stats returns a snapshot of the aggregated stats so far.
func (w *Writer) Stats() dpo.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close flushes the open shard and merges this run into the directory
// manifest. The manifest update is guarded with a file lock so concurrent
// processes writing to the same directory don't lose each other's shards.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.pw != nil {
		if err := w.closeShardLocked(); err != nil {
			return err
		}
	}
	return w.updateManifestLocked()
}

func (w *Writer) openShardLocked() error {
	name := w.opts.Prefix + "-" + uuid.NewString() + ".parquet"
	file, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return errors.Wrapf(err, "failed to create shard file %q", name)
	}
	w.file = file
	w.pw = parquet.NewGenericWriter[Row](file)
	w.rows = 0
	w.shards = append(w.shards, name)
	return nil
}

func (w *Writer) closeShardLocked() error {
	if err := w.pw.Close(); err != nil {
		return errors.Wrapf(err, "failed to finalize shard %q", w.file.Name())
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close shard %q", w.file.Name())
	}
	w.pw = nil
	w.file = nil
	w.rows = 0
	return nil
}

func (w *Writer) updateManifestLocked() error {
	manifestPath := filepath.Join(w.dir, "manifest.json")
	lock := flock.New(manifestPath + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "failed to lock manifest in %q", w.dir)
	}
	defer func() { _ = lock.Unlock() }()

	var manifest Manifest
	if content, err := os.ReadFile(manifestPath); err == nil {
		if err := json.Unmarshal(content, &manifest); err != nil {
			return errors.Wrapf(err, "existing manifest %q is corrupt", manifestPath)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to read manifest %q", manifestPath)
	}

	manifest.Shards = append(manifest.Shards, w.shards...)
	manifest.Stats.Add(w.stats)

	content, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal manifest")
	}
	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write manifest %q", tmpPath)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		return errors.Wrapf(err, "failed to move manifest into place")
	}
	return nil
}
