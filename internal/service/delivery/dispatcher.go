package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/email"
	"github.com/jwalitptl/notification-api/internal/gateway"
	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/metrics"
	"github.com/jwalitptl/notification-api/pkg/push"
)

const (
	channelLive  = "websocket"
	channelPush  = "push"
	channelEmail = "email"

	defaultTimeout = 15 * time.Second
)

// Presence answers whether a user has an open channel anywhere.
type Presence interface {
	Online(ctx context.Context, userID uuid.UUID) (bool, error)
}

// LocalPusher is satisfied by *gateway.Hub.
type LocalPusher interface {
	SendToUser(userID uuid.UUID, event string, data interface{}) (int, error)
}

// Relay fans a push out to every gateway instance, this one included.
type Relay interface {
	Publish(ctx context.Context, msgType, userID string, payload interface{}) error
}

type TokenRegistry interface {
	GetActiveTokens(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error)
	Touch(ctx context.Context, token string) error
	DeactivateToken(ctx context.Context, token string) error
}

type EmailDirectory interface {
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

type Option func(*Dispatcher)

func WithRelay(r Relay) Option {
	return func(d *Dispatcher) { d.relay = r }
}

func WithPush(tokens TokenRegistry, sender push.Sender) Option {
	return func(d *Dispatcher) {
		d.tokens = tokens
		d.push = sender
	}
}

func WithEmail(sender email.Service, directory EmailDirectory) Option {
	return func(d *Dispatcher) {
		d.mail = sender
		d.directory = directory
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Dispatcher picks delivery channels for a persisted notification: the live
// channel when the user is online, device push otherwise, and email on top
// for critical priority. Failures are logged and counted, never returned.
type Dispatcher struct {
	presence Presence
	local    LocalPusher
	relay    Relay

	tokens TokenRegistry
	push   push.Sender

	mail      email.Service
	directory EmailDirectory

	pushBreaker *circuitbreaker.CircuitBreaker
	mailBreaker *circuitbreaker.CircuitBreaker

	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewDispatcher(presence Presence, local LocalPusher, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		presence:    presence,
		local:       local,
		pushBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: channelPush}),
		mailBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: channelEmail}),
		timeout:     defaultTimeout,
		logger:      log.With("delivery"),
		metrics:     m,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch returns once the live push is queued. Push and email run in the
// background, detached from ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, n *model.Notification) {
	delivered := false
	if d.online(ctx, n.UserID) {
		delivered = d.deliverLive(ctx, n)
	}

	background := context.WithoutCancel(ctx)
	if !delivered && d.push != nil {
		d.goDetached(background, func(ctx context.Context) { d.deliverPush(ctx, n) })
	}
	if n.Priority() == model.PriorityCritical && d.mail != nil {
		d.goDetached(background, func(ctx context.Context) { d.deliverEmail(ctx, n) })
	}
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) goDetached(ctx context.Context, fn func(context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (d *Dispatcher) online(ctx context.Context, userID uuid.UUID) bool {
	if d.presence == nil {
		return false
	}
	online, err := d.presence.Online(ctx, userID)
	if err != nil {
		d.logger.Warn("presence lookup failed, treating user as offline", "user_id", userID.String(), "error", err.Error())
		return false
	}
	return online
}

func (d *Dispatcher) deliverLive(ctx context.Context, n *model.Notification) bool {
	if d.relay != nil {
		if err := d.relay.Publish(ctx, gateway.EventNotification, n.UserID.String(), n); err != nil {
			d.logger.Error(err, "failed to relay notification", "notification_id", n.ID.String())
			d.count(channelLive, "failed")
			return false
		}
		d.count(channelLive, "sent")
		return true
	}

	if d.local == nil {
		return false
	}
	sent, err := d.local.SendToUser(n.UserID, gateway.EventNotification, n)
	if err != nil {
		d.logger.Error(err, "failed to push notification", "notification_id", n.ID.String())
		d.count(channelLive, "failed")
		return false
	}
	if sent == 0 {
		d.count(channelLive, "skipped")
		return false
	}
	d.count(channelLive, "sent")
	return true
}

func (d *Dispatcher) deliverPush(ctx context.Context, n *model.Notification) {
	tokens, err := d.tokens.GetActiveTokens(ctx, n.UserID)
	if err != nil {
		d.logger.Error(err, "failed to load device tokens", "user_id", n.UserID.String())
		d.count(channelPush, "failed")
		return
	}
	if len(tokens) == 0 {
		d.count(channelPush, "skipped")
		return
	}

	msg := push.Message{
		Title: n.Title,
		Body:  n.Content,
		Data: map[string]string{
			"notificationId": n.ID.String(),
			"type":           string(n.Type),
			"priority":       string(n.Priority()),
		},
		Urgent: n.Priority() == model.PriorityCritical || n.Priority() == model.PriorityHigh,
	}

	for _, t := range tokens {
		unregistered := false
		err := d.pushBreaker.Execute(func() error {
			err := d.push.Send(ctx, t.Token, msg)
			if errors.Is(err, push.ErrUnregistered) {
				unregistered = true
				return nil
			}
			return err
		})

		switch {
		case unregistered:
			d.count(channelPush, "unregistered")
			if err := d.tokens.DeactivateToken(ctx, t.Token); err != nil {
				d.logger.Error(err, "failed to deactivate unregistered token", "token_id", t.ID.String())
			}
		case err != nil:
			d.count(channelPush, "failed")
			d.logger.Warn("push delivery failed", "token_id", t.ID.String(), "error", err.Error())
		default:
			d.count(channelPush, "sent")
			if err := d.tokens.Touch(ctx, t.Token); err != nil {
				d.logger.Warn("failed to touch device token", "token_id", t.ID.String(), "error", err.Error())
			}
		}
	}
}

func (d *Dispatcher) deliverEmail(ctx context.Context, n *model.Notification) {
	if d.directory == nil {
		return
	}
	to, err := d.directory.Email(ctx, n.UserID)
	if err != nil || to == "" {
		if err != nil && !apperrors.IsNotFound(err) {
			d.logger.Error(err, "failed to look up email address", "user_id", n.UserID.String())
			d.count(channelEmail, "failed")
			return
		}
		d.count(channelEmail, "skipped")
		return
	}

	subject, body, err := email.RenderAlert(n)
	if err != nil {
		d.logger.Error(err, "failed to render alert email", "notification_id", n.ID.String())
		d.count(channelEmail, "failed")
		return
	}

	err = d.mailBreaker.Execute(func() error {
		return d.mail.Send(ctx, to, subject, body)
	})
	if err != nil {
		d.logger.Warn("email delivery failed", "notification_id", n.ID.String(), "error", err.Error())
		d.count(channelEmail, "failed")
		return
	}
	d.count(channelEmail, "sent")
}

func (d *Dispatcher) count(channel, status string) {
	d.metrics.Deliveries.WithLabelValues(channel, status).Inc()
}
