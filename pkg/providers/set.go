package providers

import (
	"errors"
	"fmt"
	"io"

	"github.com/harun/swarm/pkg/capability"
)

// Options selects which providers a Set carries
type Options struct {
	Buffers BufferReader
	// Search is enabled when APIKey is set
	Search SearchConfig
	// Fetcher enables browser_extract when non-nil
	Fetcher PageFetcher
}

// Set is the provider set of one process
type Set struct {
	providers []capability.Provider
	closers   []io.Closer
}

// NewSet builds the configured providers
func NewSet(opts Options) (*Set, error) {
	s := &Set{providers: []capability.Provider{Echo()}}

	if opts.Buffers != nil {
		s.providers = append(s.providers, SwarmReader(opts.Buffers))
	}

	if opts.Search.APIKey != "" {
		search, err := NewWebSearch(opts.Search)
		if err != nil {
			return nil, fmt.Errorf("web search: %w", err)
		}
		s.providers = append(s.providers, search)
	}

	if opts.Fetcher != nil {
		browser, err := NewBrowser(opts.Fetcher)
		if err != nil {
			return nil, fmt.Errorf("browser: %w", err)
		}
		s.providers = append(s.providers, browser)
		s.closers = append(s.closers, browser)
	}

	return s, nil
}

// Register adds every provider to reg and seals it
func (s *Set) Register(reg *capability.Registry) error {
	for _, p := range s.providers {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	reg.Seal()
	return nil
}

// Providers returns the providers in registration order
func (s *Set) Providers() []capability.Provider {
	return append([]capability.Provider(nil), s.providers...)
}

// Close releases provider resources
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
