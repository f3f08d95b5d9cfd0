package transport

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// Failure classes returned by Channel. Connection-level errors may also
// flip the channel to disconnected; protocol errors never do.
var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrTimeout          = errors.New("transport: timed out")
	ErrConnectionLost   = errors.New("transport: connection lost")
	ErrShortHeader      = errors.New("transport: short or empty header")
	ErrBadMagic         = errors.New("transport: bad magic byte")
	ErrMalformedPayload = errors.New("transport: malformed payload")
)

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnectionLoss reports errors after which the socket cannot be reused.
func isConnectionLoss(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, net.ErrClosed)
}
