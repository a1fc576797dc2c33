// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Application close codes sent on the game socket.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // client did not negotiate the game subprotocol
	ResyncFailedError   websocket.StatusCode = 3001 // initial catch-up could not be assembled; reconnect later
	SlowConsumerError   websocket.StatusCode = 3002 // events were dropped; reconnect to resync
)
