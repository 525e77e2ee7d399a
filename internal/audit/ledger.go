// Package audit keeps the append-only ledger of mutating actions. The
// committed log lives in memory and is the source of truth for queries;
// durability is delegated to an injected Sink through a bounded outbox that
// never fails the business operation that produced an entry.
package audit

import (
	"context"
	"log"
	"sync"

	"clearline/internal/domain"
)

// Action enumerates the mutating (and exported view) operations recorded in
// the ledger.
type Action string

const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionView           Action = "view"
	ActionExport         Action = "export"
	ActionCompleteStep   Action = "complete_step"
	ActionUploadDocument Action = "upload_document"
	ActionDeleteDocument Action = "delete_document"
	ActionApprovePayment Action = "approve_payment"
	ActionBulkUpdate     Action = "bulk_update"
	ActionBulkDelete     Action = "bulk_delete"
)

// FieldChange is one before/after diff inside an entry.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`
}

// Entry is immutable once appended. The user block is a snapshot taken at
// the time of the action; later permission changes do not alter history.
type Entry struct {
	ID             int64                  `json:"id"`
	Timestamp      string                 `json:"timestamp" format:"date-time"`
	UserID         string                 `json:"user_id"`
	UserName       string                 `json:"user_name,omitempty"`
	UserEmail      string                 `json:"user_email,omitempty"`
	UserLevel      domain.PermissionLevel `json:"user_level"`
	Action         Action                 `json:"action"`
	Resource       string                 `json:"resource"`
	ResourceID     string                 `json:"resource_id"`
	Details        []FieldChange          `json:"details,omitempty"`
	RequiresReview bool                   `json:"requires_review"`
}

// Sink is the durable persistence collaborator. Persist is best-effort from
// the ledger's perspective; the sink owns its own retry guarantees.
type Sink interface {
	Persist(ctx context.Context, e Entry) error
}

// Ledger is safe for concurrent appends from any number of shipments'
// serialized sections. Reads see the latest committed state without blocking
// writers beyond the short critical section.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64

	sink   Sink
	logger *log.Logger

	pending chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	failedMu sync.Mutex
	failed   []Entry
}

const outboxSize = 256

// New returns a ledger forwarding entries to sink. A nil sink keeps the
// ledger memory-only, which the tests use.
func New(sink Sink, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	l := &Ledger{
		nextID:  1,
		sink:    sink,
		logger:  logger,
		pending: make(chan Entry, outboxSize),
		done:    make(chan struct{}),
	}
	if sink != nil {
		l.wg.Add(1)
		go l.persistLoop()
	}
	return l
}

// Seed installs previously persisted entries, typically loaded from the sink
// at startup, and advances the id counter past them.
func (l *Ledger) Seed(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	for _, e := range entries {
		if e.ID >= l.nextID {
			l.nextID = e.ID + 1
		}
	}
}

// Append commits an entry and returns its id. It cannot fail: id assignment
// and the memory write happen under the lock, persistence is handed to the
// outbox afterwards.
func (l *Ledger) Append(e Entry) int64 {
	l.mu.Lock()
	e.ID = l.nextID
	l.nextID++
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	if l.sink == nil {
		return e.ID
	}
	select {
	case l.pending <- e:
	default:
		// Outbox full; park the entry for re-queue instead of dropping it.
		l.logger.Printf("warning: audit outbox full, entry %d parked for retry", e.ID)
		l.park(e)
	}
	return e.ID
}

func (l *Ledger) persistLoop() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.pending:
			l.persist(e)
		case <-l.done:
			for {
				select {
				case e := <-l.pending:
					l.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) persist(e Entry) {
	if err := l.sink.Persist(context.Background(), e); err != nil {
		l.logger.Printf("warning: persist audit entry %d: %v", e.ID, err)
		l.park(e)
	}
}

func (l *Ledger) park(e Entry) {
	l.failedMu.Lock()
	l.failed = append(l.failed, e)
	l.failedMu.Unlock()
}

// Failed returns entries whose persistence failed and have not been
// re-queued yet.
func (l *Ledger) Failed() []Entry {
	l.failedMu.Lock()
	defer l.failedMu.Unlock()
	out := make([]Entry, len(l.failed))
	copy(out, l.failed)
	return out
}

// RequeueFailed pushes parked entries back through the outbox, returning how
// many were re-queued.
func (l *Ledger) RequeueFailed() int {
	l.failedMu.Lock()
	parked := l.failed
	l.failed = nil
	l.failedMu.Unlock()

	n := 0
	for _, e := range parked {
		select {
		case l.pending <- e:
			n++
		default:
			l.park(e)
		}
	}
	return n
}

// Close drains the outbox and stops the persist worker.
func (l *Ledger) Close() {
	if l.sink == nil {
		return
	}
	close(l.done)
	l.wg.Wait()
}
