package mailbox

import "strings"

// LabelColor is a background/text pair in the provider's palette.
type LabelColor struct {
	Background string
	Text       string
}

var labelColors = map[string]LabelColor{
	"Applications": {Background: "#16a765", Text: "#ffffff"},
	"Security":     {Background: "#fb4c2f", Text: "#ffffff"},
	"Newsletter":   {Background: "#4986e7", Text: "#ffffff"},
	"NoFit":        {Background: "#4986e7", Text: "#000000"},
}

// ColorFor returns the color for a label. Nested labels such as
// "Applications/Interview" take the color of their root.
func ColorFor(name string) (LabelColor, bool) {
	root, _, _ := strings.Cut(name, "/")
	c, ok := labelColors[root]
	return c, ok
}
