// Package ws streams terminal surfaces to browser viewers over WebSocket.
package ws
