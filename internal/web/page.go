// Package web renders the Pixwave landing page from the static catalog and a
// workflow snapshot.
package web

import (
	"io"
	"strconv"

	"github.com/BTreeMap/Pixwave/internal/content"
	"github.com/BTreeMap/Pixwave/internal/models"
	g "maragu.dev/gomponents"
	c "maragu.dev/gomponents/components"
	. "maragu.dev/gomponents/html"
)

// External assets the page styles itself with.
const (
	TailwindScriptURL = "https://cdn.tailwindcss.com"
	RemixIconCSSURL   = "https://cdn.jsdelivr.net/npm/remixicon@4.5.0/fonts/remixicon.css"
)

// GenerateAction is the form target for prompt submission.
const GenerateAction = "/generate"

// PromptInputMaxLength bounds the prompt input in UTF-16 code units. One unit
// encodes to at most three UTF-8 bytes, so a full input stays under the
// server's byte limit.
const PromptInputMaxLength = models.MaxPromptLength / 4

// RefreshSeconds is how often a generating page reloads to pick up the result.
const RefreshSeconds = "1"

// promptInputScript keeps the submit button in step with the input while the
// user types, before the next server render.
const promptInputScript = "var b=this.form.querySelector('button[type=submit]');" +
	"b.disabled=this.form.dataset.generating==='true'||this.value.trim()==='';"

// Render writes the full page for snap.
func Render(w io.Writer, cat content.Catalog, snap models.Snapshot) error {
	return Page(cat, snap).Render(w)
}

// Page builds the full HTML document.
func Page(cat content.Catalog, snap models.Snapshot) g.Node {
	return c.HTML5(c.HTML5Props{
		Title:       cat.Hero.Title + " - " + cat.Hero.Tagline,
		Description: cat.Hero.Description,
		Language:    "en",
		Head: []g.Node{
			g.If(snap.Generating(), Meta(g.Attr("http-equiv", "refresh"), Content(RefreshSeconds))),
			Script(Src(TailwindScriptURL)),
			Link(Rel("stylesheet"), Href(RemixIconCSSURL)),
		},
		Body: []g.Node{
			Class("min-h-screen bg-gradient-to-br from-slate-950 via-slate-950 to-violet-950/20 text-white"),
			Div(
				Class("container mx-auto px-4 py-16"),
				hero(cat.Hero),
				generator(cat.PromptPlaceholder, snap),
				features(cat.FeaturesHeading, cat.Features),
				examples(cat.ExamplesHeading, cat.ExamplesSubtitle, cat.Examples),
				callToAction(cat.CallToAction),
			),
		},
	})
}

func hero(h models.Hero) g.Node {
	return Div(
		ID("top"),
		Class("text-center mb-16"),
		H1(
			Class("text-5xl md:text-7xl font-bold mb-6 bg-gradient-to-r from-violet-600 via-purple-500 to-blue-500 bg-clip-text text-transparent"),
			g.Text(h.Title),
		),
		P(Class("text-xl md:text-2xl text-slate-400 mb-4"), g.Text(h.Tagline)),
		P(Class("text-lg text-slate-400 max-w-3xl mx-auto"), g.Text(h.Description)),
	)
}

// generator is the prompt card: input, submit button and the latest image.
func generator(placeholder string, snap models.Snapshot) g.Node {
	generating := "false"
	if snap.Generating() {
		generating = "true"
	}
	return Div(
		Class("max-w-4xl mx-auto mb-24"),
		Div(
			Class("p-8 rounded-xl bg-slate-900/50 backdrop-blur-sm border border-violet-500/20"),
			Form(
				ID("generator"),
				Method("post"),
				Action(GenerateAction),
				Class("space-y-4"),
				g.Attr("data-generating", generating),
				g.Attr("data-state", string(snap.State)),
				Div(
					Class("flex gap-4"),
					Input(
						Type("text"),
						Name("prompt"),
						Value(snap.PromptText),
						Placeholder(placeholder),
						g.Attr("autocomplete", "off"),
						g.Attr("maxlength", strconv.Itoa(PromptInputMaxLength)),
						g.Attr("oninput", promptInputScript),
						Class("flex-1 text-lg h-14 px-4 rounded-md bg-slate-950 border border-violet-500/30 focus-visible:ring-violet-500"),
					),
					submitButton(snap),
				),
				g.If(snap.LastError != "",
					P(Class("text-sm text-red-400"), Role("alert"), g.Text(snap.LastError)),
				),
				g.If(snap.HasImage(),
					Div(
						Class("mt-6 rounded-lg overflow-hidden border-2 border-violet-500/30"),
						Img(Src(snap.GeneratedImageRef), Alt("Generated"), Class("w-full h-auto")),
					),
				),
			),
		),
	)
}

func submitButton(snap models.Snapshot) g.Node {
	label := g.Group{I(Class("ri-magic-fill mr-2")), g.Text("Generate")}
	if snap.Generating() {
		label = g.Group{I(Class("ri-loader-4-line animate-spin mr-2")), g.Text("Generating...")}
	}
	return Button(
		Type("submit"),
		g.If(!snap.CanSubmit(), Disabled()),
		g.If(snap.Generating(), Aria("busy", "true")),
		Class("h-14 px-8 rounded-md bg-gradient-to-r from-violet-600 to-purple-600 hover:from-violet-700 hover:to-purple-700 text-white disabled:opacity-50"),
		label,
	)
}

func features(heading string, entries []models.FeatureEntry) g.Node {
	return Section(
		ID("features"),
		Class("mb-24"),
		H2(Class("text-3xl md:text-4xl font-bold text-center mb-12"), g.Text(heading)),
		Div(
			Class("grid grid-cols-1 md:grid-cols-2 lg:grid-cols-3 gap-6"),
			g.Map(entries, func(f models.FeatureEntry) g.Node {
				return Div(
					Class("p-6 h-full rounded-xl bg-slate-900/50 border border-violet-500/20 hover:border-violet-500/40 transition-all"),
					Div(
						Class("flex flex-col items-center text-center space-y-4"),
						Div(
							Class("w-16 h-16 rounded-full bg-gradient-to-br from-violet-600 to-purple-600 flex items-center justify-center"),
							I(Class(f.Icon+" text-3xl text-white")),
						),
						H3(Class("text-xl font-semibold"), g.Text(f.Title)),
						P(Class("text-slate-400"), g.Text(f.Description)),
					),
				)
			}),
		),
	)
}

func examples(heading, subtitle string, entries []models.ExampleEntry) g.Node {
	return Section(
		ID("examples"),
		Class("mb-24"),
		H2(Class("text-3xl md:text-4xl font-bold text-center mb-4"), g.Text(heading)),
		P(Class("text-center text-slate-400 mb-12"), g.Text(subtitle)),
		Div(
			Class("grid grid-cols-1 md:grid-cols-2 lg:grid-cols-3 gap-6"),
			g.Map(entries, func(e models.ExampleEntry) g.Node {
				return Div(
					Class("group overflow-hidden rounded-xl bg-slate-900/50 border border-violet-500/20 hover:border-violet-500/40 transition-all"),
					Div(
						Class("relative aspect-square overflow-hidden"),
						Img(
							Src(e.ImageURL),
							Alt(e.PromptLabel),
							g.Attr("loading", "lazy"),
							Class("w-full h-full object-cover group-hover:scale-110 transition-transform duration-300"),
						),
						Div(
							Class("absolute inset-0 bg-gradient-to-t from-black/60 to-transparent opacity-0 group-hover:opacity-100 transition-opacity flex items-end p-4"),
							P(Class("text-white text-sm"), g.Text(e.PromptLabel)),
						),
					),
				)
			}),
		),
	)
}

func callToAction(cta models.CallToAction) g.Node {
	return Section(
		Class("text-center"),
		Div(
			Class("p-12 rounded-xl bg-gradient-to-r from-violet-600/10 to-purple-600/10 border border-violet-500/30"),
			H2(Class("text-3xl md:text-4xl font-bold mb-6"), g.Text(cta.Heading)),
			P(Class("text-lg text-slate-400 mb-8 max-w-2xl mx-auto"), g.Text(cta.Body)),
			A(
				Href("#top"),
				Class("inline-flex items-center h-14 px-12 rounded-md bg-gradient-to-r from-violet-600 to-purple-600 hover:from-violet-700 hover:to-purple-700 text-white text-lg"),
				I(Class("ri-magic-fill mr-2")),
				g.Text(cta.ButtonLabel),
			),
		),
	)
}
