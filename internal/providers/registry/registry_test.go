package registry

import (
	"testing"

	"simplechat/internal/providers/fallback"
	"simplechat/internal/providers/gemini"
)

func TestBuild(t *testing.T) {
	p, err := Build(BuildOptions{Kind: "Gemini", APIKey: "k"})
	if err != nil {
		t.Fatalf("build gemini: %v", err)
	}
	if _, ok := p.(*gemini.Client); !ok {
		t.Fatalf("expected gemini client, got %T", p)
	}

	p, err = Build(BuildOptions{Kind: KindFallback})
	if err != nil {
		t.Fatalf("build fallback: %v", err)
	}
	if _, ok := p.(*fallback.Responder); !ok {
		t.Fatalf("expected fallback responder, got %T", p)
	}

	if _, err := Build(BuildOptions{Kind: "openai"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
