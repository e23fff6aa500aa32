package push

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds the settings of all providers; each provider reads its own part.
type Config struct {
	// RequestTimeout bounds a single provider request. Keep it below the
	// dispatcher's attempt timeout.
	RequestTimeout time.Duration

	TgToken string

	SNSRegion                 string
	SNSPlatformApplicationARN string
}

// Factory creates a provider's client. On failure it should return an error
// rather than panic.
type Factory func(ctx context.Context, cfg Config, l *zap.SugaredLogger) (Client, error)

var (
	providersRegistry = make(map[string]Factory)
	providersMu       sync.Mutex
)

// Register adds a provider under the given name. To register a provider call
// Register in the init function of its package.
func Register(name string, f Factory) bool {
	providersMu.Lock()
	defer providersMu.Unlock()

	if _, ok := providersRegistry[name]; ok {
		return false
	}
	providersRegistry[name] = f
	return true
}

// New creates the client of the named provider.
func New(ctx context.Context, name string, cfg Config, l *zap.SugaredLogger) (Client, error) {
	providersMu.Lock()
	f, ok := providersRegistry[name]
	providersMu.Unlock()

	if !ok {
		return nil, errors.Errorf("unknown push provider %q, known providers: %v", name, Names())
	}
	return f(ctx, cfg, l)
}

// Names returns sorted list of registered providers.
func Names() []string {
	providersMu.Lock()
	defer providersMu.Unlock()

	names := make([]string, 0, len(providersRegistry))
	for n := range providersRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
