package blockcache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// DefaultConfirmations is how deep a block must be before it is cached.
const DefaultConfirmations = 6

// Cached serves BlockByHeight from a Store in front of another backend.
// Every other call passes through.
type Cached struct {
	backend.Backend

	store         Store
	confirmations uint64
	log           logrus.FieldLogger

	// tip is the highest block height any backend answer has shown.
	tip    atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ backend.Backend = (*Cached)(nil)

// Wrap puts store in front of b. A block is only written once it has
// confirmations blocks on top of it, so a reorg near the tip never leaves
// a stale block in the cache. Zero confirmations means DefaultConfirmations.
func Wrap(b backend.Backend, store Store, confirmations uint64, log logrus.FieldLogger) *Cached {
	if confirmations == 0 {
		confirmations = DefaultConfirmations
	}
	return &Cached{
		Backend:       b,
		store:         store,
		confirmations: confirmations,
		log:           log.WithField("component", "blockcache"),
	}
}

// ChainInfo implements backend.Backend and records the tip.
func (c *Cached) ChainInfo(ctx context.Context, tipHint *uint64) (*backend.ChainInfo, error) {
	info, err := c.Backend.ChainInfo(ctx, tipHint)
	if err == nil {
		c.observe(info.BlockCount)
	}
	return info, err
}

// BlockByHeight implements backend.Backend.
func (c *Cached) BlockByHeight(ctx context.Context, height uint64) (*backend.Block, error) {
	blk, err := c.store.Get(height)
	switch {
	case err == nil:
		c.hits.Add(1)
		return blk, nil
	case errors.Is(err, ErrCorrupt):
		c.log.WithError(err).WithField("height", height).Warn("dropping corrupt cache entry")
		if err := c.store.Delete(height); err != nil {
			c.log.WithError(err).Warn("delete cache entry")
		}
	case !errors.Is(err, ErrMiss):
		c.log.WithError(err).WithField("height", height).Warn("cache read failed")
	}
	c.misses.Add(1)

	blk, err = c.Backend.BlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	c.observe(height)

	if c.deepEnough(height) {
		if err := c.store.Put(height, blk); err != nil {
			c.log.WithError(err).WithField("height", height).Warn("cache write failed")
		}
	}
	return blk, nil
}

func (c *Cached) observe(height uint64) {
	for {
		cur := c.tip.Load()
		if height <= cur || c.tip.CompareAndSwap(cur, height) {
			return
		}
	}
}

func (c *Cached) deepEnough(height uint64) bool {
	return height+c.confirmations <= c.tip.Load()
}

// Stats returns the hit and miss counters.
func (c *Cached) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the wrapped backend and then the store.
func (c *Cached) Close() error {
	err := c.Backend.Close()
	if serr := c.store.Close(); err == nil {
		err = serr
	}
	return err
}
