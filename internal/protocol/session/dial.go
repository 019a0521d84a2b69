package session

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Dial connects to addr over TCP, retrying with backoff until it succeeds,
// ctx ends, or MaxConnectAttempts is reached. A negative MaxConnectAttempts
// retries forever.
func Dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			log.Info().Str("component", "session").Str("addr", addr).Int("attempt", attempt).Msg("session.Dial connected")
			return conn, nil
		}
		log.Warn().Str("component", "session").Str("addr", addr).Int("attempt", attempt).Err(err).Msg("session.Dial failed")
		if !shouldRetry(cfg, attempt) {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func shouldRetry(cfg Config, attempt int) bool {
	if cfg.MaxConnectAttempts < 0 {
		return true
	}
	return attempt < cfg.MaxConnectAttempts
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	delay := NextBackoffDelay(cfg, attempt, rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
