// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/projects/:id/ws to receive real-time
// updates about stage transitions, cascades and progress.
package websocket
