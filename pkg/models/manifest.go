package models

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in provider IDs
const (
	ProviderImage         = "home_screen_widget"
	ProviderImageWithText = "home_screen_widget_with_text"
)

const (
	defaultFrameWidth  = 320
	defaultFrameHeight = 320
)

var providerIDPattern = regexp.MustCompile(`^[a-z0-9_\-]+$`)

// ProviderManifest describes one widget provider variant
type ProviderManifest struct {
	ID                 string `yaml:"id" json:"id"`
	Name               string `yaml:"name" json:"name"`
	Description        string `yaml:"desc" json:"description"`
	CacheByDescription bool   `yaml:"cacheByDescription" json:"cacheByDescription"`
	AlwaysShowText     bool   `yaml:"alwaysShowText" json:"alwaysShowText"`
	FrameWidth         int    `yaml:"frameWidth" json:"frameWidth"`
	FrameHeight        int    `yaml:"frameHeight" json:"frameHeight"`
}

type providersFile struct {
	Providers []*ProviderManifest `yaml:"providers"`
}

// DefaultProviders returns the two widget variants shipped with the app
func DefaultProviders() []*ProviderManifest {
	return []*ProviderManifest{
		{
			ID:          ProviderImage,
			Name:        "Recent image",
			Description: "Latest image with an optional per-widget caption",
			FrameWidth:  defaultFrameWidth,
			FrameHeight: defaultFrameHeight,
		},
		{
			ID:                 ProviderImageWithText,
			Name:               "Recent image with text",
			Description:        "Latest image, caption always shown when present",
			CacheByDescription: true,
			AlwaysShowText:     true,
			FrameWidth:         defaultFrameWidth,
			FrameHeight:        defaultFrameHeight,
		},
	}
}

// LoadProviders loads provider manifests from a YAML file
func LoadProviders(path string) ([]*ProviderManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s declares no providers", path)
	}

	for _, p := range file.Providers {
		if !providerIDPattern.MatchString(p.ID) {
			return nil, fmt.Errorf("invalid provider ID: %q", p.ID)
		}
		if p.FrameWidth <= 0 {
			p.FrameWidth = defaultFrameWidth
		}
		if p.FrameHeight <= 0 {
			p.FrameHeight = defaultFrameHeight
		}
	}

	return file.Providers, nil
}

// ProviderRegistry manages the collection of configured providers
type ProviderRegistry struct {
	providers map[string]*ProviderManifest
}

// NewProviderRegistry creates a registry from a list of manifests
func NewProviderRegistry(manifests []*ProviderManifest) (*ProviderRegistry, error) {
	r := &ProviderRegistry{
		providers: make(map[string]*ProviderManifest, len(manifests)),
	}

	for _, m := range manifests {
		if _, dup := r.providers[m.ID]; dup {
			return nil, fmt.Errorf("duplicate provider ID: %s", m.ID)
		}
		r.providers[m.ID] = m
	}

	return r, nil
}

// LoadProviderRegistry builds the registry from path, or from the built-in
// providers when path is empty
func LoadProviderRegistry(path string) (*ProviderRegistry, error) {
	if path == "" {
		return NewProviderRegistry(DefaultProviders())
	}

	manifests, err := LoadProviders(path)
	if err != nil {
		return nil, err
	}
	return NewProviderRegistry(manifests)
}

// GetProvider returns a provider by ID
func (r *ProviderRegistry) GetProvider(id string) (*ProviderManifest, bool) {
	p, exists := r.providers[id]
	return p, exists
}

// GetProvidersList returns all providers ordered by ID
func (r *ProviderRegistry) GetProvidersList() []*ProviderManifest {
	list := make([]*ProviderManifest, 0, len(r.providers))
	for _, p := range r.providers {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
