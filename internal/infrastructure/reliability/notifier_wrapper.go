package reliability

import (
	"context"
	"errors"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/circuitbreaker"
	"syncroom/pkg/retry"

	"go.uber.org/zap"
)

var _ ports.MembershipNotifier = (*NotifierWrapper)(nil)

// NotifierWrapper protects the membership notifier with retries and a circuit
// breaker so a redis outage cannot slow down joins and leaves.
type NotifierWrapper struct {
	notifier       ports.MembershipNotifier
	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.SugaredLogger
}

func NewNotifierWrapper(
	notifier ports.MembershipNotifier,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *NotifierWrapper {
	w := &NotifierWrapper{
		notifier:       notifier,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
		logger:         logger,
	}
	// An open breaker fails fast; retrying it would only burn the wait.
	w.retryConfig.NonRetryableErrors = append(w.retryConfig.NonRetryableErrors, circuitbreaker.ErrOpen)

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("notifier circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *NotifierWrapper) ParticipantJoined(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	return w.execute(ctx, func() error {
		return w.notifier.ParticipantJoined(ctx, roomID, participant)
	})
}

func (w *NotifierWrapper) ParticipantLeft(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	return w.execute(ctx, func() error {
		return w.notifier.ParticipantLeft(ctx, roomID, participant)
	})
}

func (w *NotifierWrapper) execute(ctx context.Context, fn func() error) error {
	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, fn)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		w.logger.Debugw("membership notification skipped, circuit open")
	}
	return err
}

func (w *NotifierWrapper) State() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}
