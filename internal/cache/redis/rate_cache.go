package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// rateQuoteKey is the hash holding the last known good USD/TRY quote.
const rateQuoteKey = "rate:usdtry"

// RateCache implements domain.RateCache using a Redis hash with fields
// "rate", "source" and "fetched_at" (Unix nanosecond timestamp).
type RateCache struct {
	rdb *redis.Client
}

// NewRateCache creates a RateCache backed by the given Client.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{rdb: c.Underlying()}
}

// SaveQuote stores the quote, replacing any previous one.
func (rc *RateCache) SaveQuote(ctx context.Context, q domain.RateQuote) error {
	fields := map[string]interface{}{
		"rate":       strconv.FormatFloat(q.Rate, 'f', -1, 64),
		"source":     string(q.Source),
		"fetched_at": strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
	}
	if err := rc.rdb.HSet(ctx, rateQuoteKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: save rate quote: %w", err)
	}
	return nil
}

// LoadQuote retrieves the persisted quote. It returns domain.ErrNotFound
// when no quote has ever been saved.
func (rc *RateCache) LoadQuote(ctx context.Context) (domain.RateQuote, error) {
	vals, err := rc.rdb.HGetAll(ctx, rateQuoteKey).Result()
	if err != nil {
		return domain.RateQuote{}, fmt.Errorf("redis: load rate quote: %w", err)
	}
	if len(vals) == 0 {
		return domain.RateQuote{}, domain.ErrNotFound
	}

	rate, err := strconv.ParseFloat(vals["rate"], 64)
	if err != nil {
		return domain.RateQuote{}, fmt.Errorf("redis: parse rate: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["fetched_at"], 10, 64)
	if err != nil {
		return domain.RateQuote{}, fmt.Errorf("redis: parse fetched_at: %w", err)
	}

	return domain.RateQuote{
		Rate:      rate,
		Source:    domain.RateSource(vals["source"]),
		FetchedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.RateCache = (*RateCache)(nil)
