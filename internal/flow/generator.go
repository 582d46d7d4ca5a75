package flow

import (
	"context"

	"github.com/BTreeMap/Pixwave/internal/placeholder"
)

// ImageGenerator turns a prompt into an image reference. It is called after
// the simulated delay has elapsed.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PlaceholderGenerator produces placehold.co references and never fails.
type PlaceholderGenerator struct{}

// Generate implements ImageGenerator.
func (PlaceholderGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return placeholder.BuildURL(prompt), nil
}
