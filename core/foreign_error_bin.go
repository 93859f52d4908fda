package core

import (
	"sync"
)

// AddResult is the outcome of ForeignErrorBinTable.AddForeignError.
type AddResult int

const (
	AddAccepted AddResult = iota
	AddDuplicateIgnored
	AddRejected
)

func (r AddResult) String() string {
	switch r {
	case AddAccepted:
		return "accepted"
	case AddDuplicateIgnored:
		return "duplicate-ignored"
	case AddRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ForeignErrorBin holds the errors one source task raised, as observed by one owner.
type ForeignErrorBin struct {
	mu         sync.Mutex
	owner      TaskID
	source     TaskID
	current    *ErrorRecord
	firstFatal *ErrorRecord
}

func (b *ForeignErrorBin) Owner() TaskID  { return b.owner }
func (b *ForeignErrorBin) Source() TaskID { return b.source }

// Current returns the most recent record, nil once cleared.
func (b *ForeignErrorBin) Current() *ErrorRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// FirstFatal returns the first fatal record ever seen from the source.
func (b *ForeignErrorBin) FirstFatal() *ErrorRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstFatal
}

func (b *ForeignErrorBin) putLocked(rec *ErrorRecord, force bool, logger Logger) AddResult {
	cur := b.current
	if cur != nil && cur.UID() == rec.UID() {
		return AddDuplicateIgnored
	}
	if cur != nil && !cur.IsResolved() {
		if !force {
			return AddRejected
		}
		forceClean(cur, logger)
	}

	b.current = rec
	if rec.IsFatal() && b.firstFatal == nil {
		b.firstFatal = rec
	}
	return AddAccepted
}

// pendingLocked reports whether the bin still holds something to look at.
func (b *ForeignErrorBin) pendingLocked() bool {
	return b.current != nil && !b.current.IsResolved()
}

func forceClean(rec *ErrorRecord, logger Logger) {
	if rec.Impact() == NoImpactByLinkage {
		logger.Warn("force-cleaning linked foreign error", F("uid", rec.UID()), F("source", rec.TaskName()))
	}
	rec.release()
}

// ForeignErrorBinTable is the owner-scoped table of foreign error bins.
// Bins are kept in insertion order.
type ForeignErrorBinTable struct {
	mu      sync.Mutex
	owner   *TaskIdentity
	bins    map[TaskID]*ForeignErrorBin
	order   []TaskID
	history map[TaskID]*ErrorRecord
	torn    bool

	logger  Logger
	metrics Metrics
}

// TableOption configures a ForeignErrorBinTable.
type TableOption func(*ForeignErrorBinTable)

// WithTableLogger sets the logger.
func WithTableLogger(l Logger) TableOption {
	return func(t *ForeignErrorBinTable) { t.logger = l }
}

// WithTableMetrics sets the metrics collector.
func WithTableMetrics(m Metrics) TableOption {
	return func(t *ForeignErrorBinTable) { t.metrics = m }
}

// NewForeignErrorBinTable creates an empty table owned by owner.
func NewForeignErrorBinTable(owner *TaskIdentity, opts ...TableOption) *ForeignErrorBinTable {
	t := &ForeignErrorBinTable{
		owner:   owner,
		bins:    make(map[TaskID]*ForeignErrorBin),
		history: make(map[TaskID]*ErrorRecord),
		logger:  NewNoOpLogger(),
		metrics: &NilMetrics{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Owner returns the identity of the owning task.
func (t *ForeignErrorBinTable) Owner() *TaskIdentity { return t.owner }

// AddForeignError stores rec in the bin of its source task.
// A record with the unique id of the bin's current record is a duplicate. Replacing a
// different unresolved record is rejected unless force is set, in which case the old
// record is force-cleaned first.
func (t *ForeignErrorBinTable) AddForeignError(owner TaskID, rec *ErrorRecord, force bool) AddResult {
	if !rec.valid() || owner != t.owner.ID() || rec.TaskID() == owner {
		return AddRejected
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.torn {
		return AddRejected
	}

	bin, ok := t.bins[rec.TaskID()]
	if !ok {
		bin = &ForeignErrorBin{owner: owner, source: rec.TaskID()}
		t.bins[rec.TaskID()] = bin
		t.order = append(t.order, rec.TaskID())
	}

	bin.mu.Lock()
	defer bin.mu.Unlock()

	res := bin.putLocked(rec.foreignCopy(), force, t.logger)
	if res == AddRejected {
		t.logger.Debug("foreign error rejected, unresolved record present",
			F("owner", t.owner.Name()),
			F("source", rec.TaskName()),
			F("uid", rec.UID()))
	}
	return res
}

// HarvestPendingFatal evicts every bin whose current record is gone or resolved and
// returns, in insertion order, the current records of the remaining bins that are fatal.
func (t *ForeignErrorBinTable) HarvestPendingFatal() []*ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*ErrorRecord
	kept := t.order[:0]
	for _, source := range t.order {
		bin := t.bins[source]

		bin.mu.Lock()
		if !bin.pendingLocked() {
			t.evictLocked(bin)
			bin.mu.Unlock()
			continue
		}
		if bin.current.IsFatal() {
			out = append(out, bin.current)
		}
		bin.mu.Unlock()

		kept = append(kept, source)
	}
	clear(t.order[len(kept):])
	t.order = kept

	if len(out) > 0 {
		t.metrics.RecordForeignErrorsHarvested(t.owner.Name(), len(out))
	}
	return out
}

// evictLocked drops bin from the map, keeping its first fatal record for reporting.
// Callers hold both the table lock and the bin lock and fix up t.order themselves.
func (t *ForeignErrorBinTable) evictLocked(bin *ForeignErrorBin) {
	if bin.firstFatal != nil {
		if _, ok := t.history[bin.source]; !ok {
			t.history[bin.source] = bin.firstFatal
		}
	}
	delete(t.bins, bin.source)
}

// Bin returns the bin of source, nil if none exists.
func (t *ForeignErrorBinTable) Bin(source TaskID) *ForeignErrorBin {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bins[source]
}

// FirstFatal returns the first fatal record seen from source, even after its bin was evicted.
func (t *ForeignErrorBinTable) FirstFatal(source TaskID) *ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bin, ok := t.bins[source]; ok {
		bin.mu.Lock()
		defer bin.mu.Unlock()
		if bin.firstFatal != nil {
			return bin.firstFatal
		}
	}
	return t.history[source]
}

// ClearForeignError releases the current record of source's bin.
// An unresolved die-caused record is only cleared with force.
func (t *ForeignErrorBinTable) ClearForeignError(source TaskID, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	bin, ok := t.bins[source]
	if !ok {
		return true
	}

	bin.mu.Lock()
	defer bin.mu.Unlock()

	cur := bin.current
	if cur == nil {
		return true
	}
	if cur.Impact().IsDieCaused() && !cur.IsResolved() && !force {
		return false
	}
	forceClean(cur, t.logger)
	bin.current = nil
	return true
}

// Purge destroys source's bin if it holds nothing pending.
func (t *ForeignErrorBinTable) Purge(source TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	bin, ok := t.bins[source]
	if !ok {
		return false
	}

	bin.mu.Lock()
	defer bin.mu.Unlock()

	if bin.pendingLocked() {
		return false
	}
	t.evictLocked(bin)
	for i, id := range t.order {
		if id == source {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of live bins.
func (t *ForeignErrorBinTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bins)
}

// Sources returns the source task ids of the live bins in insertion order.
func (t *ForeignErrorBinTable) Sources() []TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TaskID(nil), t.order...)
}

// Teardown destroys every bin, force-cleaning its record, and returns how many
// bins still held an unresolved record. The table rejects all later adds.
func (t *ForeignErrorBinTable) Teardown() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.torn {
		return 0
	}
	t.torn = true

	var pending int
	for _, source := range t.order {
		bin := t.bins[source]
		bin.mu.Lock()
		if bin.pendingLocked() {
			pending++
		}
		if bin.current != nil {
			forceClean(bin.current, t.logger)
			bin.current = nil
		}
		bin.mu.Unlock()
	}

	t.bins = make(map[TaskID]*ForeignErrorBin)
	t.order = nil
	if pending > 0 {
		t.logger.Warn("foreign error table torn down with pending errors",
			F("owner", t.owner.Name()),
			F("pending", pending))
	}
	return pending
}
