package cloudauth

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-cloudauth/core"
)

// ProviderPack groups vendors supplied outside this module, such as an
// in-house storage service speaking the same OAuth2 flow.
type ProviderPack struct {
	Name      string
	Providers []core.Provider
}

type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks map[string]ProviderPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("cloudauth: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("cloudauth: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("cloudauth: provider pack %q has no providers", name)
	}

	normalized := ProviderPack{
		Name:      name,
		Providers: append([]core.Provider(nil), pack.Providers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("cloudauth: provider pack %q already registered", name)
	}
	h.providerPacks[name] = normalized
	return nil
}

// ApplyProviderPacks registers every pack in name order. A pack provider
// reusing a built-in id fails registration.
func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("cloudauth: registry is required")
	}

	for _, pack := range h.ProviderPacks() {
		for _, provider := range pack.Providers {
			if provider == nil {
				return fmt.Errorf("cloudauth: provider pack %q contains nil provider", pack.Name)
			}
			if err := registry.Register(provider); err != nil {
				return fmt.Errorf("cloudauth: provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.providerPacks))
	for name := range h.providerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Providers: append([]core.Provider(nil), pack.Providers...),
		})
	}
	return out
}
