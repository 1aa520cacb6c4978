package runmanager

// DefaultMaxTransitions bounds the transition history kept by a controller.
const DefaultMaxTransitions = 256

// Transition is one recorded state change.
type Transition struct {
	Seq    int64    `json:"seq"`
	AtMs   int64    `json:"at_ms"`
	RunID  string   `json:"run_id"`
	From   RunState `json:"from"`
	To     RunState `json:"to"`
	Reason string   `json:"reason"`
}

// History is an append-only log of transitions with a memory limit. When the
// limit is reached the oldest half is discarded. Not safe for concurrent use.
type History struct {
	entries   []Transition
	seq       int64
	max       int
	truncated bool
}

// NewHistory creates a history holding at most max entries; max <= 0 uses the default.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxTransitions
	}
	return &History{entries: make([]Transition, 0, 16), max: max}
}

// Append records t, assigning its sequence number.
func (h *History) Append(t Transition) Transition {
	h.seq++
	t.Seq = h.seq
	if len(h.entries) >= h.max {
		keep := h.max / 2
		copy(h.entries, h.entries[len(h.entries)-keep:])
		h.entries = h.entries[:keep]
		h.truncated = true
	}
	h.entries = append(h.entries, t)
	return t
}

// All returns a copy of every retained transition, oldest first.
func (h *History) All() []Transition {
	return append([]Transition(nil), h.entries...)
}

// ForRun returns the retained transitions of one run.
func (h *History) ForRun(runID string) []Transition {
	var out []Transition
	for _, t := range h.entries {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of retained transitions.
func (h *History) Len() int { return len(h.entries) }

// Truncated reports whether older transitions were discarded.
func (h *History) Truncated() bool { return h.truncated }
