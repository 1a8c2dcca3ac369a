package gateway

import (
	"context"
	"os"

	"boardroom/internal/config"
	"boardroom/internal/logging"
)

// BuildProviders instantiates every configured provider whose API key is
// present. Missing keys leave the provider out; attempts against it fail with
// ErrProviderUnavailable and the chain moves on.
func BuildProviders(ctx context.Context, cfg *config.Config, getenv func(string) string, logger *logging.Logger) (map[string]Provider, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	out := map[string]Provider{}
	for name, pc := range cfg.Providers {
		key := ""
		if pc.APIKeyEnv != "" {
			key = getenv(pc.APIKeyEnv)
		}
		if key == "" {
			logger.Warn("provider has no api key, skipping", "provider", name, "env", pc.APIKeyEnv)
			continue
		}
		switch pc.Kind {
		case config.ProviderAnthropic:
			out[name] = NewAnthropicProvider(name, key, pc.BaseURL)
		case config.ProviderGemini:
			p, err := NewGeminiProvider(ctx, name, key, pc.BaseURL)
			if err != nil {
				return nil, err
			}
			out[name] = p
		}
	}
	return out, nil
}
