package cache

import (
	"errors"
	"strconv"
	"time"

	apperrors "sjsage522/pricewatch/pkg/errors"
)

const cooldownPrefix = "pricewatch:cooldown:"

// Cooldown remembers sites that answered with a rate limit status so the
// remaining products of that site are skipped until the block expires
type Cooldown struct {
	cache    CacheService
	duration time.Duration
}

// NewCooldown creates a cooldown tracker; a nil cache disables it
func NewCooldown(cache CacheService, duration time.Duration) *Cooldown {
	return &Cooldown{cache: cache, duration: duration}
}

// Active reports whether site is still blocked. Cache errors other than a miss
// are returned so the caller can log them; the site is then treated as open.
func (c *Cooldown) Active(site string) (bool, error) {
	if c == nil || c.cache == nil {
		return false, nil
	}
	_, err := c.cache.Get(cooldownPrefix + site)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	return false, apperrors.NewCache(site, "failed to read site cooldown", err)
}

// Block marks site as blocked for the configured duration
func (c *Cooldown) Block(site string) error {
	if c == nil || c.cache == nil || c.duration <= 0 {
		return nil
	}
	until := time.Now().Add(c.duration).Unix()
	if err := c.cache.Set(cooldownPrefix+site, []byte(strconv.FormatInt(until, 10)), c.duration); err != nil {
		return apperrors.NewCache(site, "failed to start site cooldown", err)
	}
	return nil
}

// Clear removes the block for site
func (c *Cooldown) Clear(site string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Delete(cooldownPrefix + site)
}
