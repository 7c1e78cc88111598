package docstore

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

type fetchFunc func(ctx context.Context) ([]Document, error)

// pump runs one subscription: fetch the full result set, deliver it, then
// wait for the next poke (or poll tick). Pokes arriving while a fetch runs
// collapse into one follow-up fetch.
type pump struct {
	ctx    context.Context
	cancel context.CancelFunc
	notify chan struct{}
	once   sync.Once
	onStop func()
}

type pumpOptions struct {
	// interval > 0 polls on a ticker in addition to pokes
	interval time.Duration
	// skipUnchanged suppresses deliveries identical to the previous one
	skipUnchanged bool
	// onStop runs once when the subscription ends, for deregistration
	onStop func()
}

func startPump(fetch fetchFunc, onSnapshot SnapshotFunc, onError ErrorFunc, opts pumpOptions, logger *zap.Logger) *pump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pump{
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		onStop: opts.onStop,
	}
	go p.run(fetch, onSnapshot, onError, opts, logger)
	return p
}

func (p *pump) run(fetch fetchFunc, onSnapshot SnapshotFunc, onError ErrorFunc, opts pumpOptions, logger *zap.Logger) {
	var tick <-chan time.Time
	if opts.interval > 0 {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var lastSum uint64
	first := true
	for {
		docs, err := fetch(p.ctx)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("Subscription fetch failed", zap.Error(err))
			p.Unsubscribe()
			onError(err)
			return
		}

		deliver := true
		if opts.skipUnchanged {
			sum := checksum(docs)
			deliver = first || sum != lastSum
			lastSum = sum
		}
		first = false
		if deliver {
			onSnapshot(docs)
		}

		select {
		case <-p.ctx.Done():
			return
		case <-p.notify:
		case <-tick:
		}
	}
}

// poke schedules a refetch without blocking
func (p *pump) poke() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pump) Unsubscribe() {
	p.once.Do(func() {
		p.cancel()
		if p.onStop != nil {
			p.onStop()
		}
	})
}

func checksum(docs []Document) uint64 {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	for _, d := range docs {
		_ = enc.Encode(d)
	}
	return h.Sum64()
}
