package adapter

import (
	"fmt"
	"sort"
	"sync"

	"CrmSync/internal/interfaces"
)

var (
	factoryMu       sync.RWMutex
	factoryRegistry = make(map[string]interfaces.Factory)
)

// Register is called from a provider package's init to make it selectable by crm.provider.
func Register(provider string, factory interfaces.Factory) {
	if factory == nil {
		panic(fmt.Sprintf("adapter: nil factory for provider %q", provider))
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, exists := factoryRegistry[provider]; exists {
		panic(fmt.Sprintf("adapter: provider %q registered twice", provider))
	}
	factoryRegistry[provider] = factory
}

func GetFactory(provider string) (interfaces.Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	factory, ok := factoryRegistry[provider]
	return factory, ok
}

// ListFactories returns the registered provider names, sorted.
func ListFactories() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	providers := make([]string, 0, len(factoryRegistry))
	for p := range factoryRegistry {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
