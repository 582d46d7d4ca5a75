package models

import "strings"

// FeatureEntry is one card in the feature list.
type FeatureEntry struct {
	Icon        string `json:"icon"` // Remix Icon class name, e.g. "ri-flashlight-fill"
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ExampleEntry is one tile in the example gallery.
type ExampleEntry struct {
	ImageURL    string `json:"image_url"`
	PromptLabel string `json:"prompt"`
}

// Hero holds the headline copy at the top of the page.
type Hero struct {
	Title       string `json:"title"`
	Tagline     string `json:"tagline"`
	Description string `json:"description"`
}

// CallToAction holds the closing banner copy.
type CallToAction struct {
	Heading     string `json:"heading"`
	Body        string `json:"body"`
	ButtonLabel string `json:"button_label"`
}

// IsBlank reports whether s is empty or all whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
