package upgrade

import "hotswap/pkg/fsm"

// Phase is the coordinator's position in the upgrade cycle.
type Phase = fsm.State

const (
	PhaseBooting          Phase = "booting"
	PhaseIdle             Phase = "idle"
	PhaseFetching         Phase = "fetching"
	PhasePlaceholderUp    Phase = "placeholder_up"
	PhaseRebuilding       Phase = "rebuilding"
	PhaseSwappingToActive Phase = "swapping_to_active"
)

// AllPhases lists every phase, in cycle order.
var AllPhases = []Phase{
	PhaseBooting,
	PhaseIdle,
	PhaseFetching,
	PhasePlaceholderUp,
	PhaseRebuilding,
	PhaseSwappingToActive,
}

const (
	EventBootstrapped  fsm.Event = "bootstrapped"
	EventTrigger       fsm.Event = "trigger"
	EventFetchFailed   fsm.Event = "fetch_failed"
	EventFetchedOnly   fsm.Event = "fetched_only"
	EventRepark        fsm.Event = "repark"
	EventPlaceholderUp fsm.Event = "placeholder_up"
	EventRebuild       fsm.Event = "rebuild"
	EventBuildFailed   fsm.Event = "build_failed"
	EventBuilt         fsm.Event = "built"
	EventActiveUp      fsm.Event = "active_up"
	EventBindFailed    fsm.Event = "bind_failed"
)

// ServiceState is Serving while the coordinator is idle and Upgrading
// otherwise.
type ServiceState string

const (
	Serving   ServiceState = "serving"
	Upgrading ServiceState = "upgrading"
)

func newMachine() *fsm.StateMachine {
	sm := fsm.New(PhaseBooting)

	sm.AddTransition(PhaseBooting, PhaseIdle, EventBootstrapped, nil)

	sm.AddTransition(PhaseIdle, PhaseFetching, EventTrigger, nil)
	// A parked cycle accepts an operator re-trigger.
	sm.AddTransition(PhasePlaceholderUp, PhaseFetching, EventTrigger, nil)

	sm.AddTransition(PhaseFetching, PhaseIdle, EventFetchFailed, nil)
	sm.AddTransition(PhaseFetching, PhaseIdle, EventFetchedOnly, nil)
	sm.AddTransition(PhaseFetching, PhasePlaceholderUp, EventRepark, nil)
	sm.AddTransition(PhaseFetching, PhasePlaceholderUp, EventPlaceholderUp, nil)

	sm.AddTransition(PhasePlaceholderUp, PhaseRebuilding, EventRebuild, nil)

	sm.AddTransition(PhaseRebuilding, PhasePlaceholderUp, EventBuildFailed, nil)
	sm.AddTransition(PhaseRebuilding, PhaseSwappingToActive, EventBuilt, nil)

	sm.AddTransition(PhaseSwappingToActive, PhaseIdle, EventActiveUp, nil)
	sm.AddTransition(PhaseSwappingToActive, PhasePlaceholderUp, EventBindFailed, nil)

	return sm
}
