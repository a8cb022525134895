// Package server implements the HTTP routers served on the supervisor's
// port.
//
// Two routers share the control routes (/healthz, /status, /metrics,
// /webhooks, /command, /restart):
//   - the active router forwards everything else to the installed artifact
//   - the placeholder router answers everything else with the maintenance
//     page while an upgrade is running
//
// Webhooks are authenticated with the GitHub HMAC signature over the raw
// body. Admin routes require the access_token header. Control routes are
// rate limited per client IP.
package server
