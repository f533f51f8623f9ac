// Package server implements the relaychat broadcast relay.
//
// Every accepted peer becomes a Connection held in a Registry. Each
// Connection has its own receive loop; whatever one Read returns is handed
// to the Broadcaster, which writes it to every other registered peer.
// Shutdown closes the streams out of band to release blocked readers.
//
// The implementation is organized into files for configuration, the
// registry, connections, broadcast, the TCP accept loop, the optional
// WebSocket gateway, and the operator console.
package server
