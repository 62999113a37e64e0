package server

import (
	"errors"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// Inbound event names accepted from clients.
const (
	inboundTyping     = "typing"
	inboundStopTyping = "stopTyping"
)

// inboundFrame is the JSON envelope clients send over the socket.
type inboundFrame struct {
	Event string `json:"event"`
	Data  struct {
		ReceiverID string `json:"receiverId"`
	} `json:"data"`
}

// isExpectedCloseError reports whether err is the normal result of a peer
// or the server closing the connection.
func isExpectedCloseError(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE)
}
