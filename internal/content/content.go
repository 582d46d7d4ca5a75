// Package content holds the static marketing copy rendered around the
// generator: hero text, feature cards, example gallery and call to action.
//
// The catalog is read-only configuration. It is built once at startup and
// passed to the renderer; nothing at runtime mutates it.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/Pixwave/internal/models"
)

// Catalog sizes the page layout expects.
const (
	FeatureCount = 6
	ExampleCount = 6
)

// Validation errors for catalog files.
var (
	ErrFeatureCount = errors.New("catalog must have exactly six features")
	ErrExampleCount = errors.New("catalog must have exactly six examples")
	ErrEmptyHero    = errors.New("catalog hero title is required")
)

// Catalog is the full set of static page content.
type Catalog struct {
	Hero              models.Hero           `json:"hero"`
	PromptPlaceholder string                `json:"prompt_placeholder"`
	FeaturesHeading   string                `json:"features_heading"`
	Features          []models.FeatureEntry `json:"features"`
	ExamplesHeading   string                `json:"examples_heading"`
	ExamplesSubtitle  string                `json:"examples_subtitle"`
	Examples          []models.ExampleEntry `json:"examples"`
	CallToAction      models.CallToAction   `json:"call_to_action"`
}

// Default returns the built-in catalog. Each call returns fresh slices.
func Default() Catalog {
	return Catalog{
		Hero: models.Hero{
			Title:   "Pixwave AI",
			Tagline: "Advanced Free AI Image Generator",
			Description: "Create stunning, high-quality images from text descriptions in seconds. " +
				"Unlimited generations, lightning-fast speed, complete privacy protection.",
		},
		PromptPlaceholder: "Describe the image you want to create...",
		FeaturesHeading:   "Powerful Features",
		Features: []models.FeatureEntry{
			{Icon: "ri-flashlight-fill", Title: "Lightning Fast", Description: "Generate stunning images in seconds with our advanced AI technology"},
			{Icon: "ri-infinite-fill", Title: "Unlimited Generations", Description: "Create as many images as you want, completely free with no restrictions"},
			{Icon: "ri-shield-check-fill", Title: "Complete Privacy", Description: "Your prompts and images are never stored or shared with anyone"},
			{Icon: "ri-user-3-fill", Title: "No Login Required", Description: "Start creating immediately without signing up or providing any information"},
			{Icon: "ri-star-fill", Title: "High Quality", Description: "Advanced neural networks produce stunning, photorealistic results"},
			{Icon: "ri-palette-fill", Title: "Any Style", Description: "From photorealistic to artistic, anime to abstract - create any style"},
		},
		ExamplesHeading:  "Example Generations",
		ExamplesSubtitle: "See what our AI can create for you",
		Examples: []models.ExampleEntry{
			{ImageURL: "https://placehold.co/400x400/7c3aed/ffffff?text=Futuristic+City", PromptLabel: "Futuristic city at sunset"},
			{ImageURL: "https://placehold.co/400x400/3b82f6/ffffff?text=Fantasy+Dragon", PromptLabel: "Majestic dragon in the clouds"},
			{ImageURL: "https://placehold.co/400x400/8b5cf6/ffffff?text=Space+Station", PromptLabel: "Space station orbiting Earth"},
			{ImageURL: "https://placehold.co/400x400/6366f1/ffffff?text=Underwater+City", PromptLabel: "Underwater city with coral"},
			{ImageURL: "https://placehold.co/400x400/a855f7/ffffff?text=Mountain+Peak", PromptLabel: "Snowy mountain peak at dawn"},
			{ImageURL: "https://placehold.co/400x400/4f46e5/ffffff?text=Cyber+Samurai", PromptLabel: "Cyberpunk samurai warrior"},
		},
		CallToAction: models.CallToAction{
			Heading: "Ready to Create Amazing Images?",
			Body: "Join thousands of creators using Pixwave AI to bring their imagination to life. " +
				"Start generating stunning images today - completely free, no signup required.",
			ButtonLabel: "Start Creating Now",
		},
	}
}

// Validate checks the catalog has the shape the page renders.
func (c Catalog) Validate() error {
	if c.Hero.Title == "" {
		return ErrEmptyHero
	}
	if len(c.Features) != FeatureCount {
		return fmt.Errorf("%w: got %d", ErrFeatureCount, len(c.Features))
	}
	if len(c.Examples) != ExampleCount {
		return fmt.Errorf("%w: got %d", ErrExampleCount, len(c.Examples))
	}
	for i, f := range c.Features {
		if f.Title == "" {
			return fmt.Errorf("feature %d: title is required", i)
		}
	}
	for i, e := range c.Examples {
		if e.ImageURL == "" {
			return fmt.Errorf("example %d: image url is required", i)
		}
	}
	return nil
}

// LoadFile reads a JSON catalog. Fields missing from the file keep the
// values from Default.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	cat := Default()
	if err := json.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	slog.Debug("content.LoadFile: catalog loaded", "path", path, "features", len(cat.Features), "examples", len(cat.Examples))
	return cat, nil
}
