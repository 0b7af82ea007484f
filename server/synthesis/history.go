package synthesis

// defaultHistorySize bounds how many past suggestions each session remembers
// for novelty scoring.
const defaultHistorySize = 32

// History is a bounded ring of suggestion texts already sent in a session.
// Owned by a single session task; not safe for concurrent use.
type History struct {
	texts []string
	next  int
	size  int
}

// NewHistory creates a history retaining the last size suggestions.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{texts: make([]string, size)}
}

// Remember records suggestions that were dispatched.
func (h *History) Remember(suggestions []Suggestion) {
	for _, s := range suggestions {
		h.texts[h.next] = s.Text
		h.next = (h.next + 1) % len(h.texts)
		if h.size < len(h.texts) {
			h.size++
		}
	}
}

// Clone copies the history so a concurrent synthesis cycle can score novelty
// while the owner keeps appending.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	cp := &History{texts: make([]string, len(h.texts)), next: h.next, size: h.size}
	copy(cp.texts, h.texts)
	return cp
}

// Novelty scores how different a candidate is from everything already sent:
// 1 for brand-new, approaching 0 for a near repeat. A nil history is fully
// novel.
func (h *History) Novelty(text string) float64 {
	if h == nil || h.size == 0 {
		return 1
	}
	best := 0.0
	for _, prior := range h.texts {
		if prior == "" {
			continue
		}
		if sim := TokenJaccard(text, prior); sim > best {
			best = sim
		}
	}
	return 1 - best
}
