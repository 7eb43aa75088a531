package profiler

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/sirupsen/logrus"
)

const (
	maxCounterparties      = 500
	activeTradingRatio     = 5.0
	accumulatingShare      = 0.8
	fallbackConfidence     = 0.3
	highConfidenceExchange = 0.95
	protocolConfidence     = 0.9
)

// AccountReader is the part of the chain source the profiler needs
type AccountReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	Code(ctx context.Context, address string) (string, error)
}

// Config holds profiler settings
type Config struct {
	FloorETH        float64
	MinTransactions int
	CacheTTL        time.Duration
	CacheMaxSize    int
	FetchTimeout    time.Duration
}

type cacheEntry struct {
	profile  *whale.Profile // nil for an address below the whale floor
	cachedAt time.Time
}

// Profiler classifies addresses and caches the results
type Profiler struct {
	reader AccountReader
	cfg    Config
	log    *logrus.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry

	addressLocks sync.Map // Per-address locks so concurrent lookups share one fetch
}

// New creates a new profiler
func New(reader AccountReader, cfg Config, log *logrus.Logger) *Profiler {
	return &Profiler{
		reader: reader,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Profile returns the profile of address, or nil when its balance is below
// the whale floor. Fetch failures yield an uncached unknown profile.
func (p *Profiler) Profile(ctx context.Context, address string) *whale.Profile {
	key := chain.NormalizeAddress(address)

	// Static tables short-circuit
	if profile := p.staticProfile(key); profile != nil {
		metrics.RecordProfileLookup("static")
		return profile
	}

	// Check cache first
	if entry, ok := p.cached(key); ok {
		metrics.RecordProfileLookup("cache_hit")
		return entry.profile
	}

	lockValue, _ := p.addressLocks.LoadOrStore(key, &sync.Mutex{})
	lock := lockValue.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Double-check after acquiring lock - another lookup may have filled it
	if entry, ok := p.cached(key); ok {
		metrics.RecordProfileLookup("cache_hit")
		return entry.profile
	}

	profile, err := p.fetch(ctx, key)
	if err != nil {
		metrics.RecordProfileLookup("error")
		p.log.WithError(err).WithField("address", key).Warn("Profile fetch failed, using fallback")
		fallback := whale.NewProfile(key, whale.TypeUnknown, fallbackConfidence, whale.ActivityUnobserved, RiskScore(whale.TypeUnknown, whale.ActivityUnobserved, 0), p.now().UTC())
		fallback.Labels = []string{string(whale.TypeUnknown)}
		return fallback
	}

	if profile == nil {
		metrics.RecordProfileLookup("below_floor")
	} else {
		metrics.RecordProfileLookup("fetched")
	}
	p.store(key, profile)
	return profile
}

// Cached returns every live cached profile, most recently profiled first
func (p *Profiler) Cached() []*whale.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	out := make([]*whale.Profile, 0, len(p.cache))
	for _, entry := range p.cache {
		if entry.profile == nil || now.Sub(entry.cachedAt) >= p.cfg.CacheTTL {
			continue
		}
		out = append(out, entry.profile)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProfiledAt.After(out[j].ProfiledAt)
	})
	return out
}

func (p *Profiler) staticProfile(key string) *whale.Profile {
	now := p.now().UTC()
	if name, ok := knownExchanges[key]; ok {
		profile := whale.NewProfile(key, whale.TypeExchangeCold, highConfidenceExchange, whale.ActivityUnobserved, RiskScore(whale.TypeExchangeCold, whale.ActivityUnobserved, 0), now)
		profile.KnownEntity = name
		profile.Labels = []string{string(whale.TypeExchangeCold), "known_entity"}
		return profile
	}
	if name, ok := knownProtocols[key]; ok {
		profile := whale.NewProfile(key, whale.TypeProtocolContract, protocolConfidence, whale.ActivityUnobserved, RiskScore(whale.TypeProtocolContract, whale.ActivityUnobserved, 0), now)
		profile.KnownEntity = name
		profile.IsContract = true
		profile.Labels = []string{string(whale.TypeProtocolContract), "contract", "known_entity"}
		return profile
	}
	return nil
}

func (p *Profiler) fetch(ctx context.Context, address string) (*whale.Profile, error) {
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	wei, err := p.reader.Balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	balance := chain.WeiToETH(wei)

	// Not a whale, skip the remaining lookups
	if balance < p.cfg.FloorETH {
		return nil, nil
	}

	txCount, err := p.reader.TransactionCount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get transaction count: %w", err)
	}

	code, err := p.reader.Code(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	isContract := code != "" && code != "0x"

	return p.Classify(address, balance, txCount, isContract), nil
}

// Classify derives a profile from on-chain facts
func (p *Profiler) Classify(address string, balance float64, txCount uint64, isContract bool) *whale.Profile {
	counterparties := Counterparties(txCount)
	activity, patternConfidence := ActivityPattern(balance, txCount, counterparties, p.cfg.MinTransactions)
	typ, typeConfidence := DetectType(balance, txCount, counterparties, isContract)

	profile := whale.NewProfile(
		address,
		typ,
		(typeConfidence+patternConfidence)/2,
		activity,
		RiskScore(typ, activity, balance),
		p.now().UTC(),
	)
	profile.BalanceETH = balance
	profile.TxCount = txCount
	profile.Counterparties = counterparties
	profile.IsContract = isContract
	profile.Labels = []string{string(typ), string(activity)}
	if isContract {
		profile.Labels = append(profile.Labels, "contract")
	}
	return profile
}

// Counterparties approximates the number of distinct counterparties from the
// transaction count
func Counterparties(txCount uint64) uint64 {
	cp := txCount / 3
	if cp < 1 {
		cp = 1
	}
	if cp > maxCounterparties {
		cp = maxCounterparties
	}
	return cp
}

// ActivityPattern classifies behavior from balance, tx count and counterparties
func ActivityPattern(balance float64, txCount, counterparties uint64, minTransactions int) (whale.Activity, float64) {
	if balance == 0 {
		return whale.ActivityDormant, 0.0
	}
	if txCount < uint64(minTransactions) {
		return whale.ActivityDormant, 0.2
	}

	ratio := float64(txCount) / math.Max(float64(counterparties), 1)
	switch {
	case ratio > activeTradingRatio:
		return whale.ActivityActiveTrading, 0.7
	case float64(counterparties) > accumulatingShare*float64(txCount):
		return whale.ActivityAccumulating, 0.6
	default:
		return whale.ActivityDumping, 0.7
	}
}

// DetectType picks the address type by the first matching heuristic
func DetectType(balance float64, txCount, counterparties uint64, isContract bool) (whale.Type, float64) {
	switch {
	case isContract:
		return whale.TypeGenericContract, 0.7
	case txCount > 1000 && counterparties > 100:
		return whale.TypeExchangeHot, 0.75
	case balance > 5000 && counterparties < 20 && txCount > 50:
		return whale.TypeInstitutional, 0.7
	case balance > 100:
		return whale.TypePrivateWhale, 0.8
	default:
		return whale.TypeUnknown, 0.3
	}
}

var typeRisk = map[whale.Type]float64{
	whale.TypeExchangeCold:     20,
	whale.TypeExchangeHot:      40,
	whale.TypeInstitutional:    25,
	whale.TypePrivateWhale:     70,
	whale.TypeProtocolContract: 30,
	whale.TypeGenericContract:  35,
	whale.TypeUnknown:          50,
}

var activityRisk = map[whale.Activity]float64{
	whale.ActivityDormant:       -15,
	whale.ActivityAccumulating:  10,
	whale.ActivityActiveTrading: 15,
	whale.ActivityDumping:       25,
}

// RiskScore estimates volatility risk on a 0-100 scale
func RiskScore(typ whale.Type, activity whale.Activity, balance float64) float64 {
	base, ok := typeRisk[typ]
	if !ok {
		base = typeRisk[whale.TypeUnknown]
	}
	risk := base + activityRisk[activity] + math.Min(balance/1000, 20)
	return whale.Clamp(risk, 0, 100)
}

func (p *Profiler) cached(key string) (cacheEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.cache[key]
	if !ok || p.now().Sub(entry.cachedAt) >= p.cfg.CacheTTL {
		return cacheEntry{}, false
	}
	return entry, true
}

func (p *Profiler) store(key string, profile *whale.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.cache[key] = cacheEntry{profile: profile, cachedAt: now}

	if p.cfg.CacheMaxSize <= 0 || len(p.cache) <= p.cfg.CacheMaxSize {
		return
	}

	// Drop expired entries, then the oldest until under the cap
	for k, e := range p.cache {
		if now.Sub(e.cachedAt) >= p.cfg.CacheTTL {
			delete(p.cache, k)
		}
	}
	for len(p.cache) > p.cfg.CacheMaxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range p.cache {
			if oldestKey == "" || e.cachedAt.Before(oldest) {
				oldestKey, oldest = k, e.cachedAt
			}
		}
		delete(p.cache, oldestKey)
	}
}
