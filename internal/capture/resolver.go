package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

const resolvedKey = "device"

// Resolver turns the configured target into a device id, running discovery when needed.
// Discovered ids are cached for a TTL so a flapping source is reopened without rescanning.
type Resolver struct {
	backend Backend
	target  string
	cache   *cache.Cache
	log     logger.Logger
}

// NewResolver creates a resolver for target on backend. An empty target means auto-discovery.
func NewResolver(backend Backend, target string, ttl time.Duration) *Resolver {
	return &Resolver{
		backend: backend,
		target:  target,
		// no janitor goroutine; expired entries are ignored by Get
		cache: cache.New(ttl, 0),
		log:   GetLogger(),
	}
}

// Resolve returns the device id to open. It returns ErrNoDevice when discovery ran but
// nothing matched.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if id, ok := r.backend.Direct(r.target); ok {
		return id, nil
	}
	if v, ok := r.cache.Get(resolvedKey); ok {
		if id, ok := v.(string); ok {
			return id, nil
		}
	}

	devices, err := r.backend.Discover(ctx)
	if err != nil {
		return "", err
	}
	dev, ok := r.backend.Select(devices, r.target)
	if !ok {
		return "", errors.New(fmt.Errorf("%w (backend %s, %d candidates)", ErrNoDevice, r.backend.Name(), len(devices))).
			Component("capture").
			Category(errors.CategoryNotFound).
			Priority(errors.PriorityLow).
			Context("operation", "resolve_device").
			Context("target", r.target).
			Build()
	}

	r.log.Info("found bluetooth audio source",
		logger.String("device", dev.ID),
		logger.String("mac", dev.MAC),
		logger.String("description", dev.Description),
		logger.Bool("auto_discovered", r.target == ""))
	r.cache.SetDefault(resolvedKey, dev.ID)
	return dev.ID, nil
}

// Invalidate forgets the cached device so the next Resolve rescans
func (r *Resolver) Invalidate() {
	r.cache.Delete(resolvedKey)
}
