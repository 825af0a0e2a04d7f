package cache

import "time"

// Observer receives lookup outcomes for counter wiring. Nil funcs are
// skipped.
type Observer struct {
	OnHit  func()
	OnMiss func()
}

type instrumented struct {
	Interface
	obs Observer
}

// Instrument wraps a store so every lookup outcome reaches obs. The
// store's own Stats stay authoritative; this exists to feed external
// counters without the store knowing about them.
func Instrument(inner Interface, obs Observer) Interface {
	return &instrumented{Interface: inner, obs: obs}
}

func (c *instrumented) Get(key string) (any, bool) {
	v, ok := c.Interface.Get(key)
	c.observe(ok)
	return v, ok
}

func (c *instrumented) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	ran := false
	v, err := c.Interface.GetOrSet(key, func() (any, error) {
		ran = true
		return factory()
	}, ttl)
	if err == nil {
		c.observe(!ran)
	}
	return v, err
}

func (c *instrumented) observe(hit bool) {
	if hit {
		if c.obs.OnHit != nil {
			c.obs.OnHit()
		}
		return
	}
	if c.obs.OnMiss != nil {
		c.obs.OnMiss()
	}
}
