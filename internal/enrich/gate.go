package enrich

import "sync"

// CycleGate caps LLM calls per collection cycle. Once the cap is hit,
// tasks are denied in the degrade priority order and stay denied until
// the next cycle begins.
type CycleGate struct {
	mu sync.Mutex

	maxCalls int
	cycleID  string
	calls    int
	disabled map[Task]struct{}
	next     int // index into degradeOrder
}

// NewCycleGate with maxCalls <= 0 never limits.
func NewCycleGate(maxCalls int) *CycleGate {
	return &CycleGate{maxCalls: maxCalls, disabled: map[Task]struct{}{}}
}

// BeginCycle resets the gate when a new cycle id is observed.
func (g *CycleGate) BeginCycle(cycleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cycleID == g.cycleID {
		return
	}
	g.cycleID = cycleID
	g.calls = 0
	g.disabled = map[Task]struct{}{}
	g.next = 0
}

// CanCall reports whether task may call during the current cycle.
func (g *CycleGate) CanCall(task Task) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxCalls <= 0 {
		return true
	}
	if _, off := g.disabled[task]; off {
		return false
	}
	if g.calls < g.maxCalls {
		return true
	}
	// Cap reached: shed the next least-essential feature.
	if g.next < len(degradeOrder) {
		g.disabled[degradeOrder[g.next]] = struct{}{}
		g.next++
	}
	return false
}

// RecordCall counts one completed (non-cached) call.
func (g *CycleGate) RecordCall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxCalls > 0 {
		g.calls++
	}
}

// State returns a diagnostics snapshot.
func (g *CycleGate) State() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	disabled := make([]string, 0, len(g.disabled))
	for t := range g.disabled {
		disabled = append(disabled, string(t))
	}
	return map[string]any{
		"cycle_id":  g.cycleID,
		"calls":     g.calls,
		"max_calls": g.maxCalls,
		"disabled":  disabled,
	}
}
