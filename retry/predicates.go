package retry

import (
	"errors"
	"net"
	"strings"
)

// StoreTransient matches datastore errors that usually clear on their own.
func StoreTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "deadline-exceeded") ||
		strings.Contains(msg, "internal")
}

// NetworkTransient matches transport failures: any net.Error in the chain,
// or a message mentioning the network, a fetch or a timeout.
func NetworkTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "network") ||
		strings.Contains(msg, "fetch") ||
		strings.Contains(msg, "timeout")
}
