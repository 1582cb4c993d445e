package registry

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"simplechat/internal/providers"
	"simplechat/internal/providers/fallback"
	"simplechat/internal/providers/gemini"
)

const (
	KindGemini   = "gemini"
	KindFallback = "fallback"
)

type BuildOptions struct {
	Kind       string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func Build(opts BuildOptions) (providers.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case KindGemini:
		return gemini.New(gemini.Config{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Timeout:    opts.Timeout,
			HTTPClient: opts.HTTPClient,
		}), nil
	case KindFallback, "backup", "local":
		return fallback.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}
