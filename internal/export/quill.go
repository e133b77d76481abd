package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Delta is the Quill rich-text representation: an ordered sequence of insert
// operations. The realtime and storage layers treat document content as an
// opaque blob; this package is the only place that parses it.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Op is one insert operation. Insert carries text, Image an image reference;
// exactly one of them is set. Attributes holds formatting (bold, italic,
// header level, ...) as Quill emits it.
type Op struct {
	Insert     string         `json:"-"`
	Image      string         `json:"-"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type opWire struct {
	Insert     json.RawMessage `json:"insert"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var wire opWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	o.Attributes = wire.Attributes
	if len(wire.Insert) == 0 {
		return nil
	}
	if wire.Insert[0] == '"' {
		return json.Unmarshal(wire.Insert, &o.Insert)
	}
	var embed struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(wire.Insert, &embed); err != nil {
		return err
	}
	o.Image = embed.Image
	return nil
}

func (o Op) MarshalJSON() ([]byte, error) {
	var insert any = o.Insert
	if o.Image != "" {
		insert = map[string]string{"image": o.Image}
	}
	return json.Marshal(struct {
		Insert     any            `json:"insert"`
		Attributes map[string]any `json:"attributes,omitempty"`
	}{Insert: insert, Attributes: o.Attributes})
}

// ParseDelta decodes a stored content blob. An empty or `{}` blob is a valid
// empty document.
func ParseDelta(content json.RawMessage) (Delta, error) {
	var delta Delta
	if len(content) == 0 {
		return delta, nil
	}
	if err := json.Unmarshal(content, &delta); err != nil {
		return Delta{}, fmt.Errorf("parse delta: %w", err)
	}
	return delta, nil
}

// PlainText concatenates the text inserts, which is exactly the .txt download
// format.
func (d Delta) PlainText() string {
	var b strings.Builder
	for _, op := range d.Ops {
		b.WriteString(op.Insert)
	}
	return b.String()
}

// HTML renders the delta for PDF export. Line-level attributes in Quill
// attach to the newline that terminates the line, so text is accumulated per
// line and flushed when a newline insert arrives.
func (d Delta) HTML() string {
	var out strings.Builder
	var line strings.Builder

	flush := func(attrs map[string]any) {
		text := line.String()
		line.Reset()
		tag := "p"
		if level, ok := headerLevel(attrs); ok {
			tag = fmt.Sprintf("h%d", level)
		}
		if text == "" {
			text = "<br>"
		}
		fmt.Fprintf(&out, "<%s>%s</%s>\n", tag, text, tag)
	}

	for _, op := range d.Ops {
		if op.Image != "" {
			fmt.Fprintf(&line, `<img src="%s" alt="">`, html.EscapeString(op.Image))
			continue
		}
		segments := strings.Split(op.Insert, "\n")
		for i, segment := range segments {
			if segment != "" {
				line.WriteString(renderInline(segment, op.Attributes))
			}
			if i < len(segments)-1 {
				flush(op.Attributes)
			}
		}
	}
	if line.Len() > 0 {
		flush(nil)
	}
	return out.String()
}

func headerLevel(attrs map[string]any) (int, bool) {
	if attrs == nil {
		return 0, false
	}
	if level, ok := attrs["header"].(float64); ok && level >= 1 && level <= 6 {
		return int(level), true
	}
	return 0, false
}

func renderInline(text string, attrs map[string]any) string {
	rendered := html.EscapeString(text)
	if attrs == nil {
		return rendered
	}
	if truthy(attrs["code"]) {
		rendered = "<code>" + rendered + "</code>"
	}
	if truthy(attrs["strike"]) {
		rendered = "<s>" + rendered + "</s>"
	}
	if truthy(attrs["underline"]) {
		rendered = "<u>" + rendered + "</u>"
	}
	if truthy(attrs["italic"]) {
		rendered = "<em>" + rendered + "</em>"
	}
	if truthy(attrs["bold"]) {
		rendered = "<strong>" + rendered + "</strong>"
	}
	if href, ok := attrs["link"].(string); ok && href != "" {
		rendered = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), rendered)
	}
	return rendered
}

func truthy(value any) bool {
	b, ok := value.(bool)
	return ok && b
}
