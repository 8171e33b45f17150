package services

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// placeholderPalette holds gradient start/end colours.
var placeholderPalette = [][2]string{
	{"#ff6b6b", "#c44569"},
	{"#f8b500", "#e96443"},
	{"#43cea2", "#185a9d"},
	{"#667eea", "#764ba2"},
	{"#00c6ff", "#0072ff"},
	{"#11998e", "#38ef7d"},
	{"#fc5c7d", "#6a82fb"},
	{"#232526", "#414345"},
}

// Monogram returns the two-letter label used on generated artwork: the first
// letter of the title followed by the first letter of the artist.
func Monogram(title, artist string) string {
	return initial(title) + initial(artist)
}

func initial(s string) string {
	for _, r := range foldDiacritics(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return strings.ToUpper(string(r))
		}
	}
	return "?"
}

// Placeholder renders a deterministic SVG cover for a title and artist. The
// same inputs always produce the same bytes.
func Placeholder(title, artist string) []byte {
	mono := Monogram(title, artist)
	h := fnv.New32a()
	_, _ = h.Write([]byte(mono))
	colors := placeholderPalette[h.Sum32()%uint32(len(placeholderPalette))]

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="600" height="600" viewBox="0 0 600 600">
<defs><linearGradient id="g" x1="0" y1="0" x2="1" y2="1"><stop offset="0%%" stop-color="%s"/><stop offset="100%%" stop-color="%s"/></linearGradient></defs>
<rect width="600" height="600" fill="url(#g)"/>
<text x="50%%" y="50%%" dy=".35em" text-anchor="middle" font-family="Helvetica, Arial, sans-serif" font-size="220" font-weight="700" fill="#ffffff" fill-opacity="0.9">%s</text>
</svg>
`, colors[0], colors[1], escapeXML(mono))
	return []byte(svg)
}

func escapeXML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}
