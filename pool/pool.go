// Package pool provides a bounded resource pool for database connections.
// It layers use-count and idle-size bounds, validation, and driver
// capability gating over github.com/jackc/puddle.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/puddle"
)

// DefaultMaxUseCount is the use-count bound applied when the caller sets
// none.
const DefaultMaxUseCount = 100

// Config configures a pool. Connect and Disconnect are required. A negative
// MaxSize or MaxIdleSize means unset.
type Config struct {
	// MaxSize bounds the total number of live resources. Unset falls back
	// to DefaultMaxSize.
	MaxSize int

	// MaxIdleSize bounds how many idle resources are retained. Setting it
	// without MaxSize is invalid.
	MaxIdleSize int

	// MaxUseCount bounds how many times a resource is handed out before it
	// is discarded on release. Zero means DefaultMaxUseCount.
	MaxUseCount int

	// CanConcur and CanPool describe the driver; they narrow the effective
	// size bounds.
	CanConcur bool
	CanPool   bool

	// DefaultMaxSize and DefaultMaxIdleSize apply when the caller sets no
	// bounds.
	DefaultMaxSize     int
	DefaultMaxIdleSize int

	// Connect produces a new resource.
	Connect func(ctx context.Context) (interface{}, error)

	// Disconnect releases a resource.
	Disconnect func(value interface{})

	// Validate is consulted when a previously used resource is handed out
	// again. A false return discards the resource and connects a fresh one.
	Validate func(ctx context.Context, value interface{}) bool

	// Check is invoked on release with a report callback; reporting false
	// discards the resource.
	Check func(value interface{}, report func(ok bool))
}

// Pool is a bounded resource pool.
type Pool struct {
	p           *puddle.Pool
	maxIdleSize int
	maxUseCount int
	validate    func(ctx context.Context, value interface{}) bool
	check       func(value interface{}, report func(ok bool))
}

type entry struct {
	value    interface{}
	useCount int
}

// boundSizes applies the argument rules and driver capability gating to the
// requested sizes and returns the effective bounds.
func boundSizes(cfg Config) (maxSize, maxIdleSize int, err error) {
	maxSize, maxIdleSize = cfg.MaxSize, cfg.MaxIdleSize
	switch {
	case maxSize < 0 && maxIdleSize < 0:
		maxSize, maxIdleSize = cfg.DefaultMaxSize, cfg.DefaultMaxIdleSize
	case maxIdleSize < 0:
		maxIdleSize = maxSize
	case maxSize < 0:
		return 0, 0, errors.New("max idle size cannot be set without max size")
	default:
		if maxIdleSize > maxSize {
			return 0, 0, fmt.Errorf("max idle size %d exceeds max size %d", maxIdleSize, maxSize)
		}
	}

	switch {
	case cfg.CanConcur && cfg.CanPool:
	case cfg.CanConcur:
		maxIdleSize = 0
	case cfg.CanPool:
		if maxIdleSize == 0 {
			maxSize = 1
		} else {
			maxSize, maxIdleSize = 1, 1
		}
	default:
		maxSize, maxIdleSize = 1, 0
	}
	return maxSize, maxIdleSize, nil
}

// New builds a pool from cfg.
func New(cfg Config) (*Pool, error) {
	if cfg.Connect == nil || cfg.Disconnect == nil {
		return nil, errors.New("pool requires Connect and Disconnect")
	}
	maxSize, maxIdleSize, err := boundSizes(cfg)
	if err != nil {
		return nil, err
	}
	maxUseCount := cfg.MaxUseCount
	if maxUseCount == 0 {
		maxUseCount = DefaultMaxUseCount
	}

	p := &Pool{
		maxIdleSize: maxIdleSize,
		maxUseCount: maxUseCount,
		validate:    cfg.Validate,
		check:       cfg.Check,
	}
	p.p = puddle.NewPool(
		func(ctx context.Context) (interface{}, error) {
			value, err := cfg.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return &entry{value: value}, nil
		},
		func(value interface{}) {
			cfg.Disconnect(value.(*entry).value)
		},
		int32(maxSize),
	)
	return p, nil
}

// Resource is an acquired pool slot.
type Resource struct {
	p   *Pool
	res *puddle.Resource
}

// Acquire returns a resource, waiting for a slot below the size bound.
// Previously used resources are validated first; a failed validation
// discards the resource and a fresh one is connected in its place.
func (p *Pool) Acquire(ctx context.Context) (*Resource, error) {
	for {
		res, err := p.p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		e := res.Value().(*entry)
		if e.useCount > 0 && p.validate != nil && !p.validate(ctx, e.value) {
			res.Destroy()
			continue
		}
		e.useCount++
		return &Resource{p: p, res: res}, nil
	}
}

// Value returns the pooled resource value.
func (r *Resource) Value() interface{} {
	return r.res.Value().(*entry).value
}

// Release returns the resource to the pool, or discards it when its
// use-count bound is reached, the idle bound is reached, or the check hook
// vetoes it. Release is idempotent.
func (r *Resource) Release() {
	if r.res == nil {
		return
	}
	res := r.res
	r.res = nil
	e := res.Value().(*entry)

	ok := true
	if r.p.check != nil {
		r.p.check(e.value, func(report bool) { ok = report })
	}
	if !ok || e.useCount >= r.p.maxUseCount || int(r.p.p.Stat().IdleResources()) >= r.p.maxIdleSize {
		res.Destroy()
		return
	}
	res.Release()
}

// Drain discards all currently idle resources and rejects further
// acquisitions. Resources in use are discarded as they are released.
func (p *Pool) Drain() {
	for _, res := range p.p.AcquireAllIdle() {
		res.Destroy()
	}
	go p.p.Close()
}

// Stat is a snapshot of pool occupancy.
type Stat struct {
	AcquiredResources int
	IdleResources     int
	TotalResources    int
	MaxResources      int
}

// Stat returns a snapshot of pool occupancy.
func (p *Pool) Stat() Stat {
	s := p.p.Stat()
	return Stat{
		AcquiredResources: int(s.AcquiredResources()),
		IdleResources:     int(s.IdleResources()),
		TotalResources:    int(s.TotalResources()),
		MaxResources:      int(s.MaxResources()),
	}
}
