// Package conversation keeps the ordered question/answer log for one book view.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chapterwise/pkg/domain"
)

// ErrClosed is returned by Load once the owning view is gone.
var ErrClosed = errors.New("conversation closed")

// Lister fetches the stored questions for a book.
type Lister interface {
	ListQuestions(ctx context.Context, bookID string) ([]domain.Question, error)
}

// Config wires a Manager.
type Config struct {
	BookID string
	Lister Lister
	Logger *slog.Logger
	// OnChange receives a snapshot after every mutation that changed state.
	OnChange func([]Entry)
}

// Manager owns the in-memory conversation. All methods are safe for
// concurrent use; after Close every mutation is a no-op returning false.
type Manager struct {
	bookID   string
	lister   Lister
	logger   *slog.Logger
	onChange func([]Entry)

	mu      sync.Mutex
	entries []Entry
	closed  bool
	version uint64

	notifyMu     sync.Mutex
	notifiedUpTo uint64
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bookID:   cfg.BookID,
		lister:   cfg.Lister,
		logger:   logger.With("book_id", cfg.BookID),
		onChange: cfg.OnChange,
	}
}

func (m *Manager) BookID() string { return m.bookID }

// Load replaces the list wholesale with the stored questions, oldest first.
// Ties on created_at keep server order.
func (m *Manager) Load(ctx context.Context) error {
	if m.lister == nil {
		return errors.New("conversation lister not configured")
	}
	items, err := m.lister.ListQuestions(ctx, m.bookID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	entries := make([]Entry, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, q := range items {
		if _, dup := seen[q.ID]; dup || q.ID == "" {
			continue
		}
		seen[q.ID] = struct{}{}
		entries = append(entries, Entry{ID: PersistedID(q.ID), Question: q})
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.entries = entries
	snap, v := m.changedLocked()
	m.mu.Unlock()
	m.notify(snap, v)
	m.logger.Debug("conversation loaded", "entries", len(entries))
	return nil
}

// Append adds e at the end. It refuses an id that is already present.
func (m *Manager) Append(e Entry) bool {
	m.mu.Lock()
	if m.closed || m.indexLocked(e.ID) >= 0 {
		m.mu.Unlock()
		return false
	}
	m.entries = append(m.entries, e)
	snap, v := m.changedLocked()
	m.mu.Unlock()
	m.notify(snap, v)
	return true
}

// Remove deletes the entry with id.
func (m *Manager) Remove(id ID) bool {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if m.closed || idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	snap, v := m.changedLocked()
	m.mu.Unlock()
	m.notify(snap, v)
	return true
}

// Update merges p into the entry currently known as id, in place.
func (m *Manager) Update(id ID, p Patch) bool {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if m.closed || idx < 0 {
		m.mu.Unlock()
		return false
	}
	p.apply(&m.entries[idx].Question)
	snap, v := m.changedLocked()
	m.mu.Unlock()
	m.notify(snap, v)
	return true
}

// Retarget renames the local entry to the server id, keeping its position,
// and copies the server's view of the question onto it. If the server id is
// already present (a reload raced the create call) the local entry is dropped.
func (m *Manager) Retarget(localID string, created domain.Question) bool {
	m.mu.Lock()
	idx := m.indexLocked(LocalID(localID))
	if m.closed || idx < 0 || created.ID == "" {
		m.mu.Unlock()
		return false
	}
	target := PersistedID(created.ID)
	if existing := m.indexLocked(target); existing >= 0 {
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	} else {
		e := &m.entries[idx]
		e.ID = target
		merged := created
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = e.Question.CreatedAt
		}
		if merged.ChapterLimit == 0 {
			merged.ChapterLimit = e.Question.ChapterLimit
		}
		if merged.Text == "" {
			merged.Text = e.Question.Text
		}
		if merged.BookID == "" {
			merged.BookID = e.Question.BookID
		}
		if merged.Status == "" {
			merged.Status = e.Question.Status
		}
		e.Question = merged
	}
	snap, v := m.changedLocked()
	m.mu.Unlock()
	m.notify(snap, v)
	return true
}

// Merge applies a fetched question to the entry with the same server id.
func (m *Manager) Merge(q domain.Question) bool {
	return m.Update(PersistedID(q.ID), PatchFromQuestion(q))
}

// Get returns the entry known as id.
func (m *Manager) Get(id ID) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return Entry{}, false
	}
	return m.entries[idx], true
}

// Snapshot returns a copy of the entries in display order.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// HasPending reports whether any question is still waiting for an answer.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Question.Status == domain.StatusPending {
			return true
		}
	}
	return false
}

// Close marks the view torn down.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) indexLocked(id ID) int {
	for i := range m.entries {
		if m.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Manager) changedLocked() ([]Entry, uint64) {
	m.version++
	if m.onChange == nil {
		return nil, m.version
	}
	return m.snapshotLocked(), m.version
}

// notify delivers snapshots in version order and drops stale ones.
func (m *Manager) notify(snap []Entry, version uint64) {
	if m.onChange == nil {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if version <= m.notifiedUpTo {
		return
	}
	m.notifiedUpTo = version
	m.onChange(snap)
}
