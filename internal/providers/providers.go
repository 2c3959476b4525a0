// Package providers implements the Provider Client abstract contract (spec
// §4.1): a two-method interface every subtitle upstream satisfies, a
// registry mapping the enum to constructed clients (spec §9: "a registry
// maps enum -> factory"), and one generic REST implementation that every
// wired provider configures rather than hand-rolling five bespoke HTTP
// clients. Grounded on internal/services/subtitle_service.go's
// searchProvider dispatch switch, generalized from a closed switch
// statement to an open registry so new providers don't require editing a
// dispatch function.
package providers

import (
	"context"
	"fmt"
	"sync"

	"submaker/internal/models"
)

// DownloadResult is what Download returns on success: either real
// downloaded bytes or a synthesized informational subtitle when the
// upstream degraded to an error page or an over-sized/unselectable
// archive (spec §4.1/§4.2).
type DownloadResult struct {
	Data        []byte
	ContentType string
	Format      models.SubtitleFormat
	Synthesized bool
}

// Client is the Provider Client abstract contract. Search MUST return an
// empty slice (never an error) for ordinary operational failures; only
// authentication-configuration errors propagate, so the Fan-Out
// Orchestrator can surface a synthesized warning subtitle (spec §4.1/§4.6).
type Client interface {
	Search(ctx context.Context, req models.SearchRequest) ([]models.SubtitleDescriptor, error)
	Download(ctx context.Context, id string, opts models.DownloadOptions) (DownloadResult, error)
}

// Registry maps a models.Provider to its constructed Client.
type Registry struct {
	mu      sync.RWMutex
	clients map[models.Provider]Client
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[models.Provider]Client)}
}

// Register adds (or replaces) the client for name.
func (r *Registry) Register(name models.Provider, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

// Get returns the registered client for name, if any.
func (r *Registry) Get(name models.Provider) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names returns every registered provider name, in no particular order.
func (r *Registry) Names() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}

// ErrUnknownProvider is returned by Download/Search helpers that resolve a
// provider name against the registry themselves.
type ErrUnknownProvider struct{ Name models.Provider }

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("providers: unknown provider %q", e.Name)
}
