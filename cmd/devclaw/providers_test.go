package main

import (
	"testing"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/testutil"
)

func TestProviderFactoryMemoizesPerProject(t *testing.T) {
	factory := providerFactory(&config.TrackerConfig{
		GitHub: config.GitHubConfig{Token: testutil.FakeGitHubToken},
	})
	p := &registry.Project{Slug: "p1", Provider: "github", Remote: "acme/widgets"}

	first, err := factory(p)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	second, err := factory(p)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if first != second {
		t.Error("expected the same adapter across calls")
	}

	p.Remote = "acme/gadgets"
	third, err := factory(p)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if third == first {
		t.Error("expected a fresh adapter after the remote changed")
	}
}

func TestProviderFactoryRejectsMisconfiguration(t *testing.T) {
	factory := providerFactory(&config.TrackerConfig{})

	tests := []struct {
		name    string
		project *registry.Project
	}{
		{"no remote", &registry.Project{Slug: "p1", Provider: "github"}},
		{"no token", &registry.Project{Slug: "p2", Provider: "github", Remote: "a/b"}},
		{"unknown provider", &registry.Project{Slug: "p3", Provider: "jira", Remote: "a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := factory(tt.project); err == nil {
				t.Error("expected error")
			}
		})
	}
}
