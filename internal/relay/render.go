package relay

import (
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// MaxMessageLength is the delivery sink's per-message bound, in runes.
const MaxMessageLength = 4000

// truncationMarker is appended when a rendered message is cut to fit.
const truncationMarker = "\n...truncated..."

// RenderedMessage is the final chat text plus whether it was truncated.
type RenderedMessage struct {
	Text      string
	Truncated bool
}

// telegramEscaper escapes the characters Telegram's HTML parser treats as
// markup. Quotes stay verbatim; Telegram only requires &, < and >.
var telegramEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Preformatted escapes text for HTML-flavored chat markup and marks the
// result safe for direct interpolation, so the renderer does not escape it
// a second time. Normalizers use it for JSON dumps destined for <pre>
// blocks.
func Preformatted(s string) template.HTML {
	return template.HTML(telegramEscaper.Replace(s))
}

// familyTemplates maps each family to its embedded template file.
var familyTemplates = map[EventFamily]string{
	FamilyGeneric: "generic.html",
	FamilyNode:    "node.html",
	FamilyService: "service.html",
	FamilyBilling: "billing.html",
	FamilyAlert:   "alert.html",
	FamilyStripe:  "stripe.html",
}

// Renderer holds the per-family template cache. Templates are parsed once
// at construction and are safe for concurrent use.
type Renderer struct {
	templates map[EventFamily]*template.Template
}

// templateFuncs are available inside every family template.
var templateFuncs = template.FuncMap{
	"num": formatNumber,
}

// formatNumber renders float64 values in plain decimal notation; the
// default %v formatting would print large traffic counters in scientific
// notation. Absent values display as zero.
func formatNumber(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// NewRenderer parses the embedded family templates into a cache.
func NewRenderer() (*Renderer, error) {
	templates := make(map[EventFamily]*template.Template, len(familyTemplates))
	for family, name := range familyTemplates {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		templates[family] = tmpl
	}
	return &Renderer{templates: templates}, nil
}

// Render fills the family's template with the normalized fields plus the
// event name and enforces the length bound. Truncation happens after
// rendering so templates can interpolate large nested structures freely.
// Values are auto-escaped for HTML except those the normalizer marked
// Preformatted. Missing fields render as placeholders, never an error.
func (r *Renderer) Render(family EventFamily, event string, fields map[string]any) (RenderedMessage, error) {
	tmpl, ok := r.templates[family]
	if !ok {
		tmpl = r.templates[FamilyGeneric]
	}

	// The renderer gets its own map so the event key never leaks back into
	// the caller's fields.
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["event"] = event

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return RenderedMessage{}, fmt.Errorf("render %s template: %w", family, err)
	}
	return Truncate(sb.String()), nil
}

// Truncate cuts text to MaxMessageLength runes and appends the truncation
// marker. Counting runes keeps a multi-byte character from being split.
func Truncate(text string) RenderedMessage {
	runes := []rune(text)
	if len(runes) <= MaxMessageLength {
		return RenderedMessage{Text: text}
	}
	return RenderedMessage{
		Text:      string(runes[:MaxMessageLength]) + truncationMarker,
		Truncated: true,
	}
}

// TemplateSources returns the embedded template files keyed by name, for
// startup fingerprinting.
func TemplateSources() (map[string][]byte, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, err
		}
		out[e.Name()] = data
	}
	return out, nil
}
