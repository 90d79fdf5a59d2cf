package dataset

import "fmt"

// Pad marks a window slot before the start of a session.
const Pad = ""

// Window returns the k paths ending at index i of one session, oldest
// first. Slots before the session start are Pad, so exactly max(0, k-1-i)
// leading entries are padding. Window never reads outside paths.
func Window(paths []string, i, k int) []string {
	w := make([]string, k)
	for j := 0; j < k; j++ {
		idx := i - j
		if idx >= 0 && idx < len(paths) {
			w[k-1-j] = paths[idx]
		}
	}
	return w
}

// checkWindow verifies the windowing invariants for sample i: exactly k
// slots, exactly max(0, k-1-i) leading Pad slots and no others, real frames
// in strictly increasing frame id order, and newest as the last slot.
func checkWindow(w []string, i, k int, newest string, ids map[string]int) error {
	if len(w) != k {
		return fmt.Errorf("got %d slots, want %d: %w", len(w), k, ErrWindowLength)
	}
	pad := max(0, k-1-i)
	prev := -1
	for j, p := range w {
		if j < pad {
			if p != Pad {
				return fmt.Errorf("slot %d: want padding, got %s: %w", j, p, ErrWindowOrder)
			}
			continue
		}
		if p == Pad {
			return fmt.Errorf("slot %d: padding after a real frame: %w", j, ErrWindowOrder)
		}
		id, ok := ids[p]
		if !ok || id <= prev {
			return fmt.Errorf("slot %d: frame %s does not follow frame %d: %w", j, p, prev, ErrWindowOrder)
		}
		prev = id
	}
	if k > 0 && w[k-1] != newest {
		return fmt.Errorf("newest slot is %s, want %s: %w", w[k-1], newest, ErrWindowOrder)
	}
	return nil
}
