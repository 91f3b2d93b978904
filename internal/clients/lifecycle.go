package clients

import (
	"context"

	logx "trainpush/pkg/logx"
)

// Lifecycle implements the agent's install/activate transitions against the
// registry: skip-wait is an immediate acknowledgement (there is no staged
// handover to skip server-side), claim marks every reported window as
// controlled so pre-existing windows become routable without a reload.
type Lifecycle struct {
	reg *Registry
	log logx.Logger
}

func NewLifecycle(reg *Registry, log logx.Logger) *Lifecycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{reg: reg, log: log}
}

func (l *Lifecycle) SkipWaiting(ctx context.Context) error {
	_ = ctx
	l.log.Debug("skip-wait acknowledged")
	return nil
}

func (l *Lifecycle) Claim(ctx context.Context) error {
	_ = ctx
	n := l.reg.ClaimAll()
	l.log.Debug("clients claimed", logx.Int("newly_controlled", n))
	return nil
}
