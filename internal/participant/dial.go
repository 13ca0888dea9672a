package participant

import (
	"context"

	"syncroom/internal/infrastructure/signal"
)

// WebSocketDialer connects to the relay at url.
func WebSocketDialer(url string, opts signal.ClientOptions) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return signal.Dial(ctx, url, opts)
	}
}
