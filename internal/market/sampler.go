package market

import (
	"context"
	"time"

	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/sirupsen/logrus"
)

// PriceFeed quotes the spot price of the base asset
type PriceFeed interface {
	Price(ctx context.Context) (float64, error)
}

// PoolStats reports on-chain pool activity
type PoolStats interface {
	Volume(ctx context.Context) (float64, error)
	Volatility(ctx context.Context) (float64, error)
}

// Sampler combines a price feed and pool stats into venue snapshots
type Sampler struct {
	feed          PriceFeed
	pool          PoolStats
	referenceRate float64
	volumeFactor  float64
	log           *logrus.Logger
	now           func() time.Time
}

// NewSampler creates a sampler. volumeFactor scales the pool volume to the
// venue (the pool sees a fraction of centralized exchange volume).
func NewSampler(feed PriceFeed, pool PoolStats, referenceRate, volumeFactor float64, log *logrus.Logger) *Sampler {
	if referenceRate <= 0 {
		referenceRate = 1.0
	}
	if volumeFactor <= 0 {
		volumeFactor = 1.0
	}
	return &Sampler{
		feed:          feed,
		pool:          pool,
		referenceRate: referenceRate,
		volumeFactor:  volumeFactor,
		log:           log,
		now:           time.Now,
	}
}

// Sample takes a snapshot. Only the price is required: volume falls back to
// zero and volatility to the pool client's default.
func (s *Sampler) Sample(ctx context.Context) (impact.Snapshot, error) {
	price, err := s.feed.Price(ctx)
	if err != nil {
		return impact.Snapshot{}, err
	}

	snap := impact.Snapshot{
		Timestamp:     s.now().UTC(),
		Price:         price,
		ReferenceRate: s.referenceRate,
	}

	if s.pool == nil {
		return snap, nil
	}

	volume, err := s.pool.Volume(ctx)
	if err != nil {
		s.log.WithError(err).Debug("Pool volume unavailable")
	}
	snap.Volume = volume * s.volumeFactor

	volatility, err := s.pool.Volatility(ctx)
	if err != nil {
		s.log.WithError(err).Debug("Pool volatility unavailable")
	}
	snap.Volatility = volatility

	return snap, nil
}
