package abort

import "sync"

// Gate is a per-slot monotonic counter that lets a caller detect whether
// its in-flight request has been superseded by a newer one. A caller that
// fires a new request for the same logical slot calls Advance first; when
// the request resolves it checks Receipt.IsCurrent before applying the
// result, discarding it otherwise.
type Gate struct {
	mu    sync.Mutex
	token uint64
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{}
}

// Advance supersedes every outstanding receipt and returns a receipt bound
// to the new current token.
func (g *Gate) Advance() Receipt {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token++
	return Receipt{gate: g, token: g.token}
}

// InvalidateAll makes every outstanding receipt report stale without
// issuing a new one.
func (g *Gate) InvalidateAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token++
}

// Receipt is a token bound to the gate state at the moment it was issued.
type Receipt struct {
	gate  *Gate
	token uint64
}

// IsCurrent reports whether no later Advance (or InvalidateAll) has
// happened since the receipt was issued. The zero receipt is never current.
func (r Receipt) IsCurrent() bool {
	if r.gate == nil {
		return false
	}

	r.gate.mu.Lock()
	defer r.gate.mu.Unlock()

	return r.token == r.gate.token
}
