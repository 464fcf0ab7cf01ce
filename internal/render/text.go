package render

// TextRenderer passes preformatted text through unchanged.
type TextRenderer struct{}

func (r *TextRenderer) Render(raw []byte) (string, error) {
	return string(raw), nil
}
