// Package lifecycle owns the supervisor's listening port.
//
// The port is held by at most one of two roles at any instant:
//   - active: the router that serves the installed build artifact
//   - placeholder: the maintenance page shown while an upgrade runs
//
// Start refuses to bind while a handle is live, and Stop returns only after
// the server's Serve loop has exited and its listener is closed, so a
// following Start never races the previous holder for the port.
package lifecycle
