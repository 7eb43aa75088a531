package market

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

type fixedFeed struct {
	price float64
	err   error
}

func (f fixedFeed) Price(ctx context.Context) (float64, error) { return f.price, f.err }

type fixedPool struct {
	volume     float64
	volatility float64
	err        error
}

func (p fixedPool) Volume(ctx context.Context) (float64, error) { return p.volume, p.err }

func (p fixedPool) Volatility(ctx context.Context) (float64, error) { return p.volatility, p.err }

func TestSample(t *testing.T) {
	s := NewSampler(fixedFeed{price: 2500}, fixedPool{volume: 1000, volatility: 3.2}, 1.0, 2, logrus.New())

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if snap.Price != 2500 || snap.ReferenceRate != 1.0 {
		t.Errorf("unexpected price fields %+v", snap)
	}
	if snap.Volume != 2000 {
		t.Errorf("Volume = %f, want 2000", snap.Volume)
	}
	if snap.Volatility != 3.2 {
		t.Errorf("Volatility = %f", snap.Volatility)
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestSamplePriceRequired(t *testing.T) {
	s := NewSampler(fixedFeed{err: errors.New("down")}, fixedPool{}, 1.0, 1, logrus.New())
	if _, err := s.Sample(context.Background()); err == nil {
		t.Error("expected error when the price feed fails")
	}
}

func TestSamplePoolFailureDegrades(t *testing.T) {
	s := NewSampler(fixedFeed{price: 2500}, fixedPool{volatility: 2.5, err: errors.New("indexer down")}, 1.0, 2, logrus.New())

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if snap.Volume != 0 || snap.Volatility != 2.5 {
		t.Errorf("expected degraded pool stats, got %+v", snap)
	}
}
