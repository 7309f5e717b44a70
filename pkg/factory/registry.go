package factory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// ProviderConstructor builds the llm.Client of one provider
type ProviderConstructor func(ctx context.Context, config llm.ClientConfig) (llm.Client, error)

// registry maps lower-cased provider names to constructors. Aliases resolve
// to a canonical name at lookup time.
type registry struct {
	mu           sync.RWMutex
	constructors map[string]ProviderConstructor
	aliases      map[string]string
}

var providers = &registry{
	constructors: map[string]ProviderConstructor{},
	aliases:      map[string]string{},
}

func (r *registry) register(name string, constructor ProviderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(name)
	delete(r.aliases, name)
	r.constructors[name] = constructor
}

func (r *registry) alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = strings.ToLower(name)
}

func (r *registry) lookup(name string) (ProviderConstructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(name)
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	constructor, ok := r.constructors[name]
	return constructor, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Collect(maps.Keys(r.constructors))
	for alias := range r.aliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	return names
}

// RegisterProvider registers a provider constructor. A later registration
// under the same name replaces the earlier one.
func RegisterProvider(name string, constructor ProviderConstructor) {
	providers.register(name, constructor)
}

// RegisterAlias makes alias resolve to the provider registered as name
func RegisterAlias(alias, name string) {
	providers.alias(alias, name)
}

// GetProvider returns a provider constructor by name or alias
func GetProvider(name string) (ProviderConstructor, bool) {
	return providers.lookup(name)
}

// ListProviders returns all registered provider names and aliases, sorted
func ListProviders() []string {
	return providers.names()
}
