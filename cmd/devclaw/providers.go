package main

import (
	"fmt"
	"sync"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/tracker/github"
	"github.com/laurentenhoor/devclaw/internal/tracker/gitlab"
)

// providerFactory builds tracker adapters from the workspace tracker
// credentials. Adapters are memoized per project so state recorded on them
// (the label vocabulary, review acknowledgements) survives across ticks; a
// changed remote or provider invalidates the cached adapter.
func providerFactory(trackerCfg *config.TrackerConfig) func(p *registry.Project) (tracker.Provider, error) {
	type entry struct {
		fingerprint string
		provider    tracker.Provider
	}
	var mu sync.Mutex
	cache := map[string]entry{}

	return func(p *registry.Project) (tracker.Provider, error) {
		fingerprint := p.Provider + "|" + p.Remote
		mu.Lock()
		defer mu.Unlock()
		if e, ok := cache[p.Slug]; ok && e.fingerprint == fingerprint {
			return e.provider, nil
		}
		provider, err := buildProvider(trackerCfg, p)
		if err != nil {
			return nil, err
		}
		cache[p.Slug] = entry{fingerprint: fingerprint, provider: provider}
		return provider, nil
	}
}

func buildProvider(trackerCfg *config.TrackerConfig, p *registry.Project) (tracker.Provider, error) {
	if p.Remote == "" {
		return nil, fmt.Errorf("project %q has no remote configured", p.Slug)
	}
	switch p.Provider {
	case "github":
		if trackerCfg == nil || trackerCfg.GitHub.Token == "" {
			return nil, fmt.Errorf("project %q needs tracker.github.token", p.Slug)
		}
		if trackerCfg.GitHub.BaseURL != "" {
			return github.NewWithBaseURL(trackerCfg.GitHub.Token, p.Remote, trackerCfg.GitHub.BaseURL)
		}
		return github.New(trackerCfg.GitHub.Token, p.Remote)
	case "gitlab":
		if trackerCfg == nil || trackerCfg.GitLab.Token == "" {
			return nil, fmt.Errorf("project %q needs tracker.gitlab.token", p.Slug)
		}
		if trackerCfg.GitLab.BaseURL != "" {
			return gitlab.NewWithBaseURL(trackerCfg.GitLab.Token, p.Remote, trackerCfg.GitLab.BaseURL)
		}
		return gitlab.New(trackerCfg.GitLab.Token, p.Remote)
	default:
		return nil, fmt.Errorf("project %q has unknown provider %q", p.Slug, p.Provider)
	}
}
