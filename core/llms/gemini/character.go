package gemini

import "strings"

// CharacterBible keeps the character looking the same across illustrations.
var CharacterBible = strings.Join([]string{
	"Gemie is a mysterious cute creature, hedgehog-like but not an actual hedgehog.",
	"Small round body, soft pastel spikes, big curious eyes, tiny paws, friendly smile.",
	"Always keep the same character identity across generations.",
	"2D illustration style, clean silhouette, warm toybox color palette.",
	"No realistic animal fur rendering, no horror style, no text overlays.",
}, " ")
