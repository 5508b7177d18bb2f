package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloo-solutions/lightrag/internal/domain"
)

// Prompt is a chat prompt: a system instruction and one user turn.
type Prompt struct {
	System string
	User   string
}

// TokenStream yields generated text fragments. Recv returns io.EOF after the
// last fragment. Close releases the underlying connection and may be called
// at any time.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Generator streams a completion for a prompt.
type Generator interface {
	Name() string
	ChatModel() string
	GenerateStream(ctx context.Context, prompt Prompt) (TokenStream, error)
}

// ProviderRegistry holds the generation providers and which one is current.
// Switching affects only queries started afterwards; a running query keeps
// the generator it started with.
type ProviderRegistry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	initErrs   map[string]error
	current    string
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		generators: make(map[string]Generator),
		initErrs:   make(map[string]error),
	}
}

// Register adds a generator under its name. The first one registered
// becomes current.
func (r *ProviderRegistry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(g.Name())
	r.generators[name] = g
	delete(r.initErrs, name)
	if r.current == "" {
		r.current = name
	}
}

// RegisterUnavailable records a known provider that failed to initialize.
// Selecting it reports err.
func (r *ProviderRegistry) RegisterUnavailable(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initErrs[strings.ToLower(name)] = err
}

// Set makes name the current provider.
func (r *ProviderRegistry) Set(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.generators[name]; ok {
		r.current = name
		return nil
	}
	if err, ok := r.initErrs[name]; ok {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrUnknownProvider.Message,
		fmt.Errorf("unknown provider %q", name))
}

// Current returns the current provider name.
func (r *ProviderRegistry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Generator returns the current generator.
func (r *ProviderRegistry) Generator() (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.generators[r.current]
	if !ok {
		return nil, domain.ErrProviderUnavailable.Wrap(fmt.Errorf("no generation provider configured"))
	}
	return g, nil
}

// Available lists registered provider names in order.
func (r *ProviderRegistry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
