package destination

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

// Factory builds a backend for one stored destination.
type Factory func(ctx context.Context, dest model.Destination, opts Options) (Backend, error)

var (
	mu       sync.RWMutex
	registry = map[model.DestinationType]Factory{}
)

// Register binds a destination type to its factory.
func Register(t model.DestinationType, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[t] = f
}

// New returns the backend for dest, selected once from dest.Type.
func New(ctx context.Context, dest model.Destination, opts Options) (Backend, error) {
	mu.RLock()
	f, ok := registry[dest.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, dest.Type)
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	return f(ctx, dest, opts)
}

// Registered lists the types with a factory, sorted.
func Registered() []model.DestinationType {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]model.DestinationType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
