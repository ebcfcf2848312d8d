package recognize

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
)

type recognized struct {
	rec entity.ExpenseRecord
	raw []byte
}

// Guard wraps a Recognizer with a rate limiter and a circuit breaker. It
// never retries; a tripped breaker maps to ServiceUnavailable so callers see
// the same kind they would for a direct outage. SchemaMismatch results do
// not count as breaker failures since the service itself answered.
type Guard struct {
	inner   Recognizer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[recognized]
	logger  *slog.Logger
}

type GuardConfig struct {
	RatePerSec          float64
	Burst               int
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
}

func NewGuard(inner Recognizer, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		cfg.BreakerFailureRatio = 0.6
	}

	settings := gobreaker.Settings{
		Name: "recognize",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var re *RecognitionError
			return errors.As(err, &re) && re.Kind != common.ServiceUnavailable
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("recognize.breaker_state_change", "from", from.String(), "to", to.String())
		},
	}

	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[recognized](settings),
		logger:  logger,
	}
}

func (g *Guard) Recognize(ctx context.Context, image []byte, mimeType string) (entity.ExpenseRecord, []byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return entity.ExpenseRecord{}, nil, NewServiceUnavailable("rate limit wait", err)
	}

	out, err := g.breaker.Execute(func() (recognized, error) {
		rec, raw, err := g.inner.Recognize(ctx, image, mimeType)
		return recognized{rec: rec, raw: raw}, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return entity.ExpenseRecord{}, nil, NewServiceUnavailable("recognition circuit open", err)
		}
		return out.rec, out.raw, err
	}
	return out.rec, out.raw, nil
}
