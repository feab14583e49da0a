package browser

import (
	"context"
	"errors"
	"strings"
)

// IsTargetClosed reports whether err indicates the browser tab or
// process is gone. Caption polling and UI actions use this to
// distinguish "user closed the window" from transient automation
// failures.
func IsTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"target closed",
		"target crashed",
		"no such target",
		"session closed",
		"websocket: close",
		"connection closed",
		"browser closed",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
