package websocket

import "errors"

var (
	// ErrUnauthorized is returned by Register when a shared token is
	// configured and the supplied token does not match. The caller must
	// terminate the connection.
	ErrUnauthorized = errors.New("unauthorized: invalid token")

	// ErrUnknownConnection is returned when an operation references a
	// connection ID the registry no longer tracks.
	ErrUnknownConnection = errors.New("unknown connection id")

	// ErrConnectionClosed is returned by writes after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout is returned when the send buffer stays full past the
	// write timeout.
	ErrWriteTimeout = errors.New("write timeout")
)
