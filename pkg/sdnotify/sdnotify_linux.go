//go:build linux

// Package sdnotify reports service readiness to systemd when the agent runs
// under a Type=notify unit. On other platforms, or when NOTIFY_SOCKET is
// unset, every call is a no-op.
package sdnotify

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd the agent is accepting traffic. Returns true when the
// notification was actually sent.
func Ready() bool {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return sent && err == nil
}

// Stopping tells systemd a shutdown has begun.
func Stopping() bool {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return sent && err == nil
}

// Status publishes a free-form status line visible in systemctl status.
func Status(msg string) bool {
	sent, err := daemon.SdNotify(false, "STATUS="+msg)
	return sent && err == nil
}
