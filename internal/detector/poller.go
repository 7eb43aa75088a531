package detector

import (
	"context"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Batch is what one poll cycle fetched. A failed leg leaves its part empty.
type Batch struct {
	Head      uint64
	Block     *chain.Block
	Logs      []chain.Log
	Failures  int
	FetchedAt time.Time
}

// Empty reports whether the batch carries nothing to scan
func (b *Batch) Empty() bool {
	return b.Block == nil && len(b.Logs) == 0
}

// Poller fetches the head block and recent token transfer logs
type Poller struct {
	source        chain.Source
	tokenContract string
	lag           uint64
	span          uint64
	log           *logrus.Logger
	now           func() time.Time

	mu          sync.Mutex
	lastScanned uint64
}

// NewPoller creates a poller reading lag blocks behind the head and span
// blocks of logs below that
func NewPoller(source chain.Source, tokenContract string, lag, span int, log *logrus.Logger) *Poller {
	return &Poller{
		source:        source,
		tokenContract: chain.NormalizeAddress(tokenContract),
		lag:           uint64(lag),
		span:          uint64(span),
		log:           log,
		now:           time.Now,
	}
}

// Checkpoint returns the last block whose body was scanned
func (p *Poller) Checkpoint() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastScanned
}

// SetCheckpoint restores a checkpoint, e.g. from the archive at startup
func (p *Poller) SetCheckpoint(block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastScanned = block
}

// Poll runs one fetch cycle. It never fails as a whole: failures are logged,
// counted and reflected as empty legs.
func (p *Poller) Poll(ctx context.Context) *Batch {
	batch := &Batch{FetchedAt: p.now()}

	// Height first, both ranges derive from it
	head, err := p.source.BlockNumber(ctx)
	if err != nil {
		p.legFailed("height", err)
		batch.Failures++
		return batch
	}
	batch.Head = head

	target := saturatingSub(head, p.lag)
	from := saturatingSub(target, p.span)
	skipBlock := target == p.Checkpoint()

	var wg sync.WaitGroup
	var blockErr, logsErr error

	if !skipBlock {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch.Block, blockErr = p.source.BlockByNumber(ctx, target)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		batch.Logs, logsErr = p.source.Logs(ctx, chain.LogQuery{
			Address:   p.tokenContract,
			Topic0:    chain.TransferTopic,
			FromBlock: from,
			ToBlock:   target,
		})
	}()

	wg.Wait()

	if blockErr != nil {
		p.legFailed("block", blockErr)
		batch.Block = nil
		batch.Failures++
	} else if batch.Block != nil {
		p.SetCheckpoint(batch.Block.Number)
		metrics.ScannedBlock.Set(float64(batch.Block.Number))
	}

	if logsErr != nil {
		p.legFailed("logs", logsErr)
		batch.Logs = nil
		batch.Failures++
	}

	p.log.WithFields(logrus.Fields{
		"head":       head,
		"block":      target,
		"from_block": from,
		"logs":       len(batch.Logs),
		"skip_block": skipBlock,
		"failures":   batch.Failures,
	}).Debug("Poll cycle complete")

	return batch
}

func (p *Poller) legFailed(leg string, err error) {
	kind := fault.KindOf(err)
	metrics.RecordChainLegError(leg, kind.String())
	p.log.WithError(err).WithFields(logrus.Fields{
		"leg":  leg,
		"kind": kind.String(),
	}).Warn("Chain fetch leg failed")
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
