package agents

import "fmt"

// ProviderMode selects between the real model provider and canned test
// models.
type ProviderMode string

const (
	ProviderLive ProviderMode = "live"
	ProviderMock ProviderMode = "mock"
)

// ProviderConfig maps logical model names (chat-model, title-model, ...) to
// the concrete models of one provider mode. It is built once at startup and
// passed to whatever needs it.
type ProviderConfig struct {
	Mode   ProviderMode
	Models map[string]string
}

// Provider builds the provider settings for mode from the registry's model
// table.
func (r *Registry) Provider(mode ProviderMode) (ProviderConfig, error) {
	models, ok := r.models[string(mode)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("no models configured for provider mode %q", mode)
	}
	out := make(map[string]string, len(models))
	for k, v := range models {
		out[k] = v
	}
	return ProviderConfig{Mode: mode, Models: out}, nil
}

// ModelFor resolves the concrete model an agent runs on.
func (p ProviderConfig) ModelFor(a Agent) (string, error) {
	model, ok := p.Models[a.Model]
	if !ok {
		return "", fmt.Errorf("agent %s uses model %q unknown to %s provider", a.ID, a.Model, p.Mode)
	}
	return model, nil
}
