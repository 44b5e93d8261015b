package mediaproviders

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atuona/mediabot/pkg/config"
)

// Factory creates media providers from configuration. Providers whose
// credentials are missing are skipped, so the chains only contain backends
// that can actually be called.
type Factory struct {
	Config *config.Config
	Client *http.Client
}

// NewFactory creates a new media provider factory.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{Config: cfg}
}

// ImageChains returns the primary and secondary image families in config order.
func (f *Factory) ImageChains() (primary, secondary []Adapter, err error) {
	primary, err = f.build(f.Config.Media.Image.Primary, f.imageProvider)
	if err != nil {
		return nil, nil, err
	}
	secondary, err = f.build(f.Config.Media.Image.Secondary, f.imageProvider)
	if err != nil {
		return nil, nil, err
	}
	return primary, secondary, nil
}

// VideoChain returns the video providers in priority order with any poll
// overrides applied.
func (f *Factory) VideoChain() ([]Adapter, error) {
	return f.build(f.Config.Media.Video.Providers, f.videoProvider)
}

// GetProvider returns a single provider by name, or nil if it is unknown or
// not configured.
func (f *Factory) GetProvider(name string) Adapter {
	if a, err := f.imageProvider(name); err == nil && a != nil {
		return a
	}
	if a, err := f.videoProvider(name); err == nil && a != nil {
		return a
	}
	return nil
}

func (f *Factory) build(names []string, newAdapter func(string) (Adapter, error)) ([]Adapter, error) {
	var out []Adapter
	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		a, err := newAdapter(name)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *Factory) imageProvider(name string) (Adapter, error) {
	p := f.Config.Providers
	switch name {
	case "flux-ultra":
		if p.Replicate.APIKey == "" {
			return nil, nil
		}
		return NewFluxUltraProvider(p.Replicate.APIKey, p.Replicate.APIBase, f.Client), nil
	case "flux-pro":
		if p.Replicate.APIKey == "" {
			return nil, nil
		}
		return NewFluxProProvider(p.Replicate.APIKey, p.Replicate.APIBase, f.Client), nil
	case "flux-dev":
		if p.Replicate.APIKey == "" {
			return nil, nil
		}
		return NewFluxDevProvider(p.Replicate.APIKey, p.Replicate.APIBase, f.Client), nil
	case "dall-e", "openai":
		if p.OpenAI.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIProvider(p.OpenAI.APIKey, p.OpenAI.APIBase, p.OpenAI.Model, f.Client), nil
	case "siliconflow":
		if p.SiliconFlow.APIKey == "" {
			return nil, nil
		}
		return NewSiliconFlowProvider(p.SiliconFlow.APIKey, p.SiliconFlow.APIBase, p.SiliconFlow.Model, f.Client), nil
	}
	return nil, fmt.Errorf("unknown image provider %q", name)
}

func (f *Factory) videoProvider(name string) (Adapter, error) {
	p := f.Config.Providers
	switch name {
	case "luma":
		if p.Luma.APIKey == "" {
			return nil, nil
		}
		luma := NewLumaProvider(p.Luma.APIKey, p.Luma.APIBase, p.Luma.Model, f.Client)
		luma.SetPollPolicy(f.pollPolicy(name, luma.PollPolicy()))
		return luma, nil
	case "luma-replicate":
		if p.Replicate.APIKey == "" {
			return nil, nil
		}
		return NewLumaReplicateProvider(p.Replicate.APIKey, p.Replicate.APIBase, f.Client), nil
	case "runway":
		if p.Runway.APIKey == "" {
			return nil, nil
		}
		runway := NewRunwayProvider(p.Runway.APIKey, p.Runway.APIBase, p.Runway.Model, f.Client)
		runway.SetPollPolicy(f.pollPolicy(name, runway.PollPolicy()))
		return runway, nil
	}
	return nil, fmt.Errorf("unknown video provider %q", name)
}

func (f *Factory) pollPolicy(name string, def PollPolicy) PollPolicy {
	override, ok := f.Config.Media.Video.Poll[name]
	if !ok {
		return def
	}
	if override.GraceSeconds > 0 {
		def.Grace = time.Duration(override.GraceSeconds) * time.Second
	}
	if override.IntervalSeconds > 0 {
		def.Interval = time.Duration(override.IntervalSeconds) * time.Second
	}
	if override.MaxAttempts > 0 {
		def.MaxAttempts = override.MaxAttempts
	}
	return def
}
