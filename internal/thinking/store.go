package thinking

import (
	"log/slog"
	"sync"
)

// DefaultMaxHistory is the retention bound used when none is configured.
const DefaultMaxHistory = 1000

// Store holds the thought history, the branch index and the registry of
// advertised tools.
//
// History is bounded: once MaxHistory thoughts are held, each append
// evicts the oldest. Branch sequences are not bounded and keep their
// thoughts even after those thoughts leave the history. All methods are
// safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	history    ring
	branches   map[string][]*Thought
	branchKeys []string // first-seen order

	tools     map[string]Tool
	toolOrder []string

	logger *slog.Logger
}

// Commit is the outcome of [Store.Commit].
type Commit struct {
	// BranchIDs is a snapshot of every known branch ID, first-seen order.
	BranchIDs []string
	// HistoryLength is the history length after eviction.
	HistoryLength int
	// Evicted is how many thoughts the append pushed out of history.
	Evicted int
	// Branched reports whether the thought was added to a branch.
	Branched bool
}

// NewStore creates a store bounded to maxHistory thoughts. A
// non-positive maxHistory selects DefaultMaxHistory. The built-in
// sequential thinking tool is registered before NewStore returns.
func NewStore(maxHistory int, logger *slog.Logger) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		history:  newRing(maxHistory),
		branches: make(map[string][]*Thought),
		tools:    make(map[string]Tool),
		logger:   logger,
	}
	s.RegisterTool(BuiltinTool())
	logger.Info("thought store initialized", "max_history", maxHistory)
	return s
}

// MaxHistory returns the retention bound.
func (s *Store) MaxHistory() int {
	return s.history.capacity()
}

// Append adds t to the history and returns the number of thoughts
// evicted to stay within the bound (0 or 1).
func (s *Store) Append(t *Thought) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(t)
}

func (s *Store) appendLocked(t *Thought) int {
	if s.history.push(t) {
		s.logger.Debug("history trimmed", "max_history", s.history.capacity())
		return 1
	}
	return 0
}

// AppendToBranch adds t to the named branch, creating the branch on
// first use.
func (s *Store) AppendToBranch(branchID string, t *Thought) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendToBranchLocked(branchID, t)
}

func (s *Store) appendToBranchLocked(branchID string, t *Thought) {
	if _, ok := s.branches[branchID]; !ok {
		s.branchKeys = append(s.branchKeys, branchID)
	}
	s.branches[branchID] = append(s.branches[branchID], t)
}

// Commit appends t to the history, links it into its branch when it
// carries both a branch origin and a branch ID, and snapshots the
// resulting shape. The three steps are atomic with respect to other
// store calls.
func (s *Store) Commit(t *Thought) Commit {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Commit{Evicted: s.appendLocked(t)}
	if t.InBranch() {
		s.appendToBranchLocked(*t.BranchID, t)
		c.Branched = true
	}
	c.BranchIDs = append([]string(nil), s.branchKeys...)
	c.HistoryLength = s.history.size()
	return c
}

// Clear empties the history and the branch index. Registered tools and
// the retention bound are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.reset()
	s.branches = make(map[string][]*Thought)
	s.branchKeys = nil
	s.logger.Info("history cleared")
}

// Len returns the current history length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.size()
}

// History returns the retained thoughts in arrival order.
func (s *Store) History() []*Thought {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.items()
}

// BranchIDs returns the known branch IDs in first-seen order.
func (s *Store) BranchIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.branchKeys...)
}

// Branch returns the thoughts of one branch in arrival order, or nil if
// the branch is unknown.
func (s *Store) Branch(branchID string) []*Thought {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[branchID]
	if !ok {
		return nil
	}
	return append([]*Thought(nil), b...)
}

// RegisterTool adds a tool descriptor unless one with the same name is
// already registered, in which case the call is logged and ignored.
// It reports whether the tool was added.
func (s *Store) RegisterTool(tool Tool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		s.logger.Warn("tool already registered, skipping", "tool", tool.Name)
		return false
	}
	s.tools[tool.Name] = tool
	s.toolOrder = append(s.toolOrder, tool.Name)
	s.logger.Info("tool registered", "tool", tool.Name)
	return true
}

// ListTools returns every registered tool in registration order.
func (s *Store) ListTools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		out = append(out, s.tools[name])
	}
	return out
}

// ring is a bounded FIFO of thoughts. Storage grows with use up to
// limit; after that, pushing overwrites the oldest entry.
type ring struct {
	buf   []*Thought
	limit int
	start int // index of the oldest entry once full
}

func newRing(limit int) ring {
	return ring{limit: limit}
}

func (r *ring) capacity() int { return r.limit }
func (r *ring) size() int     { return len(r.buf) }

// push appends t and reports whether the oldest entry was evicted.
func (r *ring) push(t *Thought) bool {
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, t)
		return false
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % r.limit
	return true
}

func (r *ring) items() []*Thought {
	out := make([]*Thought, len(r.buf))
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) reset() {
	r.buf = nil
	r.start = 0
}
