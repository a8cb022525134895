// Package upgrade drives the supervisor's upgrade cycle.
//
// A cycle runs strictly in order: fetch new sources, stop the active
// server, start the placeholder, rebuild, stop the placeholder and start the
// active server with the new artifact. At most one cycle is in flight; a
// trigger that arrives meanwhile is rejected with ErrInProgress.
//
// A failed fetch leaves the active server untouched. A failed build leaves
// the placeholder serving and the coordinator parked in PlaceholderUp until
// an operator triggers another cycle.
package upgrade
