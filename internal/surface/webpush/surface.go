// Package webpush implements the agent's notification surface on top of the
// Web Push protocol: showing a notification means fanning the serialized
// record out to every registered browser subscription, VAPID-signed.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"trainpush/internal/agent"
	"trainpush/internal/storage"
	logx "trainpush/pkg/logx"
)

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (mailto: or URL) claimed in the VAPID JWT.
	Subscriber string
	// TTL in seconds for the push service to retain undelivered messages.
	TTL int
	// Timeout for each individual push POST. 0 means 10s.
	Timeout time.Duration
}

// SubscriptionSource is the slice of the storage layer the surface needs.
type SubscriptionSource interface {
	ListSubscriptions(ctx context.Context) ([]storage.Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// sendFunc matches webpush.SendNotificationWithContext; injectable for tests.
type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Surface struct {
	cfg  Config
	subs SubscriptionSource
	log  logx.Logger
	send sendFunc
}

func New(cfg Config, subs SubscriptionSource, log logx.Logger) *Surface {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Surface{
		cfg:  cfg,
		subs: subs,
		log:  log,
		send: webpush.SendNotificationWithContext,
	}
}

// closeMessage is the data message broadcast on Close so the displaying side
// can dismiss the notification.
type closeMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Show delivers the record to every subscription. A fanout error is terminal
// for the triggering push event; there is no retry here.
func (s *Surface) Show(ctx context.Context, rec agent.NotificationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.fanout(ctx, payload)
}

// Close is idempotent: it broadcasts a best-effort dismiss message and never
// reports delivery problems as errors.
func (s *Surface) Close(ctx context.Context, id string) error {
	msg, err := json.Marshal(closeMessage{Type: "close", ID: id})
	if err != nil {
		return nil
	}
	if err := s.fanout(ctx, msg); err != nil {
		s.log.Debug("close broadcast incomplete", logx.String("id", id), logx.Err(err))
	}
	return nil
}

func (s *Surface) fanout(ctx context.Context, payload []byte) error {
	subs, err := s.subs.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		// Nothing to deliver to is not a failure.
		s.log.Debug("no push subscriptions registered; nothing delivered")
		return nil
	}

	var errs []error
	sent := 0
	for _, sub := range subs {
		target := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		resp, err := s.send(sendCtx, payload, target, &webpush.Options{
			Subscriber:      s.cfg.Subscriber,
			VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
			TTL:             s.cfg.TTL,
		})
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("push to %s: %w", sub.Endpoint, err))
			continue
		}
		// The push service answered; a 404/410 means the subscription is gone
		// for good, so drop it instead of failing forever.
		if resp != nil {
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				if derr := s.subs.DeleteSubscription(ctx, sub.Endpoint); derr != nil {
					s.log.Warn("failed dropping gone subscription",
						logx.String("endpoint", sub.Endpoint), logx.Err(derr))
				} else {
					s.log.Info("dropped gone subscription", logx.String("endpoint", sub.Endpoint))
				}
			} else if resp.StatusCode >= 400 {
				errs = append(errs, fmt.Errorf("push to %s: status %d", sub.Endpoint, resp.StatusCode))
			} else {
				sent++
			}
			_ = resp.Body.Close()
		} else {
			sent++
		}
	}

	if len(errs) > 0 && sent == 0 {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		// Partial delivery still counts as shown; log the stragglers.
		s.log.Warn("partial push fanout", logx.Int("sent", sent), logx.Int("failed", len(errs)), logx.Err(errors.Join(errs...)))
	}
	return nil
}
