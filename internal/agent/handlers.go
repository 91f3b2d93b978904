package agent

import (
	"context"
	"time"

	"trainpush/internal/eventbus"
	logx "trainpush/pkg/logx"
)

// Bus topics published by the agent. Payload types below.
const (
	TopicShown      = "notification.shown"
	TopicShowFailed = "notification.failed"
	TopicRouted     = "click.routed"
)

// ShownEvent is the payload for TopicShown / TopicShowFailed.
type ShownEvent struct {
	Record NotificationRecord
	Err    string
	Took   time.Duration
}

// RoutedEvent is the payload for TopicRouted.
type RoutedEvent struct {
	Record NotificationRecord
	Action string
	Route  RouteResult
}

// handleInstall always requests the skip-wait transition: a freshly deployed
// agent starts handling pushes without waiting for open views to close.
func (a *Agent) handleInstall(ctx context.Context) error {
	a.state.Store(stateWaiting)
	if err := a.caps.Lifecycle.SkipWaiting(ctx); err != nil {
		return err
	}
	a.log.Info("installed; skip-wait requested")
	return nil
}

// handleActivate always claims all in-scope windows so pre-existing views
// become routable without a reload.
func (a *Agent) handleActivate(ctx context.Context) error {
	if err := a.caps.Lifecycle.Claim(ctx); err != nil {
		return err
	}
	a.state.Store(stateActive)
	a.log.Info("activated; all clients claimed")
	return nil
}

// handlePush normalizes the payload and awaits the display call. Exactly one
// record is built per push, however malformed the body; only the display
// call itself can fail, and that failure is terminal for this event.
func (a *Agent) handlePush(ctx context.Context, body []byte) error {
	start := a.now()
	p := ParsePayload(body, a.log)
	rec := p.Normalize(a.newID(), a.now())

	err := a.caps.Surface.Show(ctx, rec)
	took := a.now().Sub(start)
	if err != nil {
		a.publish(TopicShowFailed, ShownEvent{Record: rec, Err: err.Error(), Took: took})
		return err
	}
	a.log.Debug("notification shown",
		logx.String("id", rec.ID),
		logx.String("title", rec.Title),
		logx.String("url", rec.Data.URL))
	a.publish(TopicShown, ShownEvent{Record: rec, Took: took})
	return nil
}

// handleClick closes the notification, then routes: the first window whose
// URL exactly equals the target (and which can be focused) is focused;
// otherwise a new window is opened if the host supports it; otherwise the
// click is a silent no-op.
//
// URL matching is strict string equality on purpose: "/foo/" does not match
// "/foo". See DESIGN.md before "fixing" this.
func (a *Agent) handleClick(ctx context.Context, rec NotificationRecord, action string) (RouteResult, error) {
	// Close first, regardless of routing outcome. Idempotent by contract.
	if err := a.caps.Surface.Close(ctx, rec.ID); err != nil {
		a.log.Debug("notification close failed", logx.String("id", rec.ID), logx.Err(err))
	}

	target := rec.TargetURL()

	wins, err := a.caps.Clients.MatchAll(ctx, true)
	if err != nil {
		return RouteResult{}, err
	}
	for _, w := range wins {
		if w.URL != target || !w.CanFocus {
			continue
		}
		focused, err := a.caps.Clients.Focus(ctx, w.ID)
		if err != nil {
			return RouteResult{}, err
		}
		res := RouteResult{FocusedID: focused.ID}
		a.publish(TopicRouted, RoutedEvent{Record: rec, Action: action, Route: res})
		a.log.Debug("click routed to existing window",
			logx.String("window", focused.ID), logx.String("url", target))
		return res, nil
	}

	if a.caps.Clients.CanOpen() {
		opened, err := a.caps.Clients.OpenWindow(ctx, target)
		if err != nil {
			return RouteResult{}, err
		}
		res := RouteResult{OpenedURL: opened.URL}
		a.publish(TopicRouted, RoutedEvent{Record: rec, Action: action, Route: res})
		a.log.Debug("click opened new window",
			logx.String("window", opened.ID), logx.String("url", target))
		return res, nil
	}

	res := RouteResult{NoOp: true}
	a.publish(TopicRouted, RoutedEvent{Record: rec, Action: action, Route: res})
	return res, nil
}

func (a *Agent) publish(topic string, data any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(eventbus.Event{Topic: topic, Data: data})
}
