package transport

import (
	"errors"

	"github.com/haemilhq/haemilchat/internal/correlation"
)

var (
	// ErrConnectTimeout means the open handshake did not complete within
	// the configured bound. Surfaced to the Connect caller; it does not
	// by itself trigger reconnection.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrNotConnected means a send was attempted with no open socket.
	ErrNotConnected = errors.New("not connected")

	// ErrSocketClosed means the socket died underneath the session. All
	// pending correlations are rejected with this error.
	ErrSocketClosed = errors.New("socket closed")

	// ErrMalformedFrame means an inbound frame failed to parse or lacked
	// required fields. Such frames are dropped, not surfaced, unless they
	// carry the cid of an outstanding request.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrReplyTimeout means an individual request's correlation entry
	// timed out. Only that request fails; the socket stays up.
	ErrReplyTimeout = correlation.ErrTimeout
)
