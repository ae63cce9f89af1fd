// Package http serves the operator REST surface of the gateway: the view,
// tool actions, terminal lifecycle and notifications.
package http
