// Package builder defines the build pipeline domain: phases, build records,
// plans, and the partial-update merge applied to server responses.
package builder

// Phase is a named stage of the build pipeline. The server is the transition
// authority; the client never advances a phase on its own except for the
// local cancel override.
type Phase string

const (
	PhaseStaging        Phase = "staging"
	PhaseDeepResearch   Phase = "deep-research"
	PhaseThinking       Phase = "thinking"
	PhaseResearching    Phase = "researching"
	PhasePlanning       Phase = "planning"
	PhaseAwaitingReview Phase = "awaiting-review"
	PhaseScaffolding    Phase = "scaffolding"
	PhaseImplementing   Phase = "implementing"
	PhaseComponents     Phase = "components"
	PhaseStorybook      Phase = "storybook"
	PhaseVerifying      Phase = "verifying"
	PhaseDocumenting    Phase = "documenting"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
)

// Phases is the canonical pipeline order. Failed is not part of the
// progression; it is reachable from any state.
var Phases = []Phase{
	PhaseStaging,
	PhaseDeepResearch,
	PhaseThinking,
	PhaseResearching,
	PhasePlanning,
	PhaseAwaitingReview,
	PhaseScaffolding,
	PhaseImplementing,
	PhaseComponents,
	PhaseStorybook,
	PhaseVerifying,
	PhaseDocumenting,
	PhaseComplete,
}

var phaseIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(Phases))
	for i, p := range Phases {
		m[p] = i
	}
	return m
}()

// Index returns the position of p in the pipeline order, or -1 if p is not
// a known phase. Unknown values come straight off the wire and must render
// as an unmatched current step, never crash.
func (p Phase) Index() int {
	if i, ok := phaseIndex[p]; ok {
		return i
	}
	return -1
}

// Known reports whether p is part of the canonical phase set (incl. failed).
func (p Phase) Known() bool {
	return p == PhaseFailed || p.Index() >= 0
}

// Terminal reports whether the pipeline has stopped for good. No further
// refreshes may be scheduled once a build reaches a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// AwaitingInput reports whether the server is blocked on a human decision.
func (p Phase) AwaitingInput() bool {
	return p == PhaseAwaitingReview
}

// Pollable reports whether a build in phase p should be refreshed on a timer.
func (p Phase) Pollable() bool {
	return !p.Terminal() && !p.AwaitingInput()
}

// StepState describes how a pipeline step renders relative to the current
// phase.
type StepState int

const (
	StepPending StepState = iota
	StepActive
	StepComplete
)

// StepAt returns the render state of step i given current phase p. With an
// unknown phase every indexed step is pending (current index -1).
func StepAt(i int, p Phase) StepState {
	cur := p.Index()
	switch {
	case i < cur:
		return StepComplete
	case i == cur:
		return StepActive
	default:
		return StepPending
	}
}
