// Package labels supplies human-readable names for synthesized grouping
// folders. Repositories look labels up by key so a localized provider can
// be swapped in without touching hierarchy logic.
package labels

// Provider maps a label key to a display string.
type Provider interface {
	Get(key string) string
	// Articles lists leading articles stripped before title comparison.
	Articles() []string
}

type mapProvider struct {
	m        map[string]string
	articles []string
}

func (p mapProvider) Get(key string) string {
	if v, ok := p.m[key]; ok {
		return v
	}
	return key
}

func (p mapProvider) Articles() []string { return p.articles }

// English is the default label set.
var English Provider = mapProvider{
	articles: []string{"the ", "a ", "an "},
	m: map[string]string{
		"byArtist":      "By Artist",
		"byAlbum":       "By Album",
		"byGenre":       "By Genre",
		"byYear":        "By Year",
		"byActor":       "By Actor",
		"byTitle":       "By Title",
		"allItems":      "All",
		"unknownArtist": "Unknown Artist",
		"unknownAlbum":  "Unknown Album",
		"unknownGenre":  "Unknown Genre",
		"unknownYear":   "Unknown Year",
		"unknownActor":  "Unknown Actor",
		"unknownTitle":  "Unknown Title",
		"folders":       "Folders",
		"playlists":     "Playlists",
	},
}
