package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"docindex/internal/domain"
	"docindex/internal/logutil"
	"docindex/internal/port"
)

// Ack confirms a staged change. The change is visible to searches no later
// than VisibleBy, provided Run is active or Flush is called. Stale is set
// when a newer version of the document was already staged or visible; the
// change was dropped.
type Ack struct {
	DocID     string
	Version   uint64
	VisibleBy time.Time
	Stale     bool
}

type op struct {
	remove     bool
	docVersion uint64
	version    *DocVersion
}

// Index serves immutable snapshots and batches staged per-document
// replacements into single atomic publishes.
type Index struct {
	current atomic.Pointer[Snapshot]

	mu           sync.Mutex
	pending      map[string]op
	pendingSince time.Time
	generation   uint64

	batchSize int
	targetLag time.Duration
	wake      chan struct{}
	now       func() time.Time
}

// Options configures an Index.
type Options struct {
	// BatchSize publishes as soon as this many documents are pending.
	BatchSize int
	// TargetLag bounds how long a staged change stays invisible while Run
	// is active.
	TargetLag time.Duration
}

func New(opts Options) *Index {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.TargetLag <= 0 {
		opts.TargetLag = 2 * time.Second
	}
	ix := &Index{
		pending:   make(map[string]op),
		batchSize: opts.BatchSize,
		targetLag: opts.TargetLag,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
	ix.current.Store(emptySnapshot())
	return ix
}

// Snapshot returns the currently visible snapshot. It never blocks on
// writers.
func (ix *Index) Snapshot() *Snapshot {
	return ix.current.Load()
}

// TargetLag returns the configured visibility bound.
func (ix *Index) TargetLag() time.Duration { return ix.targetLag }

// Stage queues doc, its chunks and entries as the replacement for any
// visible version of doc. Every chunk needs exactly one entry.
func (ix *Index) Stage(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) (Ack, error) {
	dv, err := newDocVersion(doc, chunks, entries)
	if err != nil {
		return Ack{}, &domain.IndexError{DocID: doc.ID, Attempts: 1, Err: err}
	}
	return ix.stage(doc.ID, op{docVersion: doc.Version, version: dv}), nil
}

// StageRemove queues the removal of a document. version is the version
// that removes it; an older visible or staged version is superseded.
func (ix *Index) StageRemove(docID string, version uint64) Ack {
	return ix.stage(docID, op{remove: true, docVersion: version})
}

func (ix *Index) stage(docID string, o op) Ack {
	ix.mu.Lock()

	if latest, ok := ix.latestVersionLocked(docID); ok && o.docVersion < latest {
		ix.mu.Unlock()
		return Ack{DocID: docID, Version: latest, Stale: true}
	}

	now := ix.now()
	if len(ix.pending) == 0 {
		ix.pendingSince = now
	}
	ix.pending[docID] = o
	ack := Ack{DocID: docID, Version: o.docVersion, VisibleBy: ix.pendingSince.Add(ix.targetLag)}

	if len(ix.pending) >= ix.batchSize {
		ix.publishLocked()
		ack.VisibleBy = now
		ix.mu.Unlock()
		return ack
	}
	ix.mu.Unlock()

	select {
	case ix.wake <- struct{}{}:
	default:
	}
	return ack
}

// LatestVersion returns the newest version of docID that is staged or
// visible, including staged removals.
func (ix *Index) LatestVersion(docID string) (uint64, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.latestVersionLocked(docID)
}

func (ix *Index) latestVersionLocked(docID string) (uint64, bool) {
	if o, ok := ix.pending[docID]; ok {
		return o.docVersion, true
	}
	if dv, ok := ix.current.Load().Doc(docID); ok {
		return dv.Version(), true
	}
	return 0, false
}

// Pending returns the number of staged, unpublished documents.
func (ix *Index) Pending() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.pending)
}

// Flush publishes every pending change in one swap and returns the
// resulting snapshot.
func (ix *Index) Flush() *Snapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.pending) > 0 {
		ix.publishLocked()
	}
	return ix.current.Load()
}

func (ix *Index) publishLocked() {
	ix.generation++
	next := ix.current.Load().apply(ix.generation, ix.pending)
	ix.current.Store(next)
	ix.pending = make(map[string]op)
}

// Load replaces the whole visible state with docs in one swap. Chunks
// listed as corrupt, and documents that are not parsed, are left out.
// Pending changes stay pending and apply on top at the next publish.
func (ix *Index) Load(docs []port.StoredDocument) error {
	ops := make(map[string]op, len(docs))
	for _, sd := range docs {
		if sd.Doc.Status != domain.StatusParsed {
			continue
		}
		chunks := sd.Chunks
		if len(sd.Corrupt) > 0 {
			chunks = withoutChunks(sd.Chunks, sd.Corrupt)
		}
		dv, err := newDocVersion(sd.Doc, chunks, sd.Entries)
		if err != nil {
			return fmt.Errorf("load %s: %w", sd.Doc.ID, err)
		}
		ops[sd.Doc.ID] = op{docVersion: sd.Doc.Version, version: dv}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.generation++
	ix.current.Store(emptySnapshot().apply(ix.generation, ops))
	return nil
}

func withoutChunks(chunks []domain.Chunk, drop []string) []domain.Chunk {
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := skip[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Run publishes pending changes within the target lag until ctx is done.
// Remaining changes are flushed on exit.
func (ix *Index) Run(ctx context.Context) error {
	logger := logutil.FromContext(ctx)
	for {
		ix.mu.Lock()
		var deadline <-chan time.Time
		if len(ix.pending) > 0 {
			wait := ix.pendingSince.Add(ix.targetLag).Sub(ix.now())
			if wait <= 0 {
				n := len(ix.pending)
				ix.publishLocked()
				ix.mu.Unlock()
				logger.Debug("published index snapshot", "documents", n, "generation", ix.Snapshot().Generation())
				continue
			}
			deadline = time.After(wait)
		}
		ix.mu.Unlock()

		select {
		case <-ctx.Done():
			ix.Flush()
			return nil
		case <-ix.wake:
		case <-deadline:
		}
	}
}

func errEntryOwner(e domain.IndexEntry, docID string) error {
	return fmt.Errorf("entry %s belongs to %s, not %s", e.ChunkID, e.DocID, docID)
}

func errChunkOwner(c domain.Chunk, docID string) error {
	return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocID, docID)
}

func errMissingEntry(c domain.Chunk) error {
	return fmt.Errorf("chunk %s has no index entry", c.ID)
}
