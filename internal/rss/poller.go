package rss

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the pause between refresh cycles.
const DefaultInterval = 10 * time.Minute

// Poller runs the refresh loop: prune, sync everything, sleep.
type Poller struct {
	syncer   *Syncer
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(syncer *Syncer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		syncer:   syncer,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// RunOnce performs a single cycle. Errors from either step are logged, not returned.
func (p *Poller) RunOnce(ctx context.Context) SyncStats {
	pruned, err := p.syncer.Prune(ctx)
	if err != nil {
		log.WithError(err).Error("Poller: pruning old items failed")
	} else if pruned > 0 {
		log.WithField("items", pruned).Info("Poller: pruned old items")
	}

	stats, err := p.syncer.LoadAllSubscriptionItems(ctx)
	if err != nil {
		log.WithError(err).Error("Poller: sync failed")
	}
	return stats
}

// Start begins the polling loop. The first cycle runs immediately.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.WithField("interval", p.interval).Info("Poller started")
		for {
			p.RunOnce(ctx)

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop cancels an in-flight cycle and waits for the loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
	log.Info("Poller stopped")
}
