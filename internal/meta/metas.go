package meta

import (
	"strconv"
	"time"
)

// Picture describes embedded or sidecar album art.
type Picture struct {
	MIMEType    string `json:"mime,omitempty"`
	Description string `json:"desc,omitempty"`
	Path        string `json:"path,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Metas is the canonical metadata record for one catalog entry.
// Well-known properties are typed fields; anything else a content handler
// wants to pass through lands in Extra.
type Metas struct {
	Title         string            `json:"title,omitempty"`
	Album         string            `json:"album,omitempty"`
	AlbumArtist   string            `json:"albumArtist,omitempty"`
	Artists       []string          `json:"artists,omitempty"`
	Genres        []string          `json:"genres,omitempty"`
	Composers     []string          `json:"composers,omitempty"`
	Actors        []string          `json:"actors,omitempty"`
	OriginalTitle string            `json:"originalTitle,omitempty"`
	Year          int               `json:"year,omitempty"`
	Track         int               `json:"track,omitempty"`
	Disc          int               `json:"disc,omitempty"`
	Duration      time.Duration     `json:"duration,omitempty"`
	Rating        int               `json:"rating,omitempty"`
	MIMEType      string            `json:"mime,omitempty"`
	Size          int64             `json:"size,omitempty"`
	Pictures      []Picture         `json:"pictures,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy. Nodes own their attribute bags exclusively,
// so anything handed to two nodes must be cloned first.
func (m *Metas) Clone() *Metas {
	if m == nil {
		return nil
	}
	out := *m
	out.Artists = append([]string(nil), m.Artists...)
	out.Genres = append([]string(nil), m.Genres...)
	out.Composers = append([]string(nil), m.Composers...)
	out.Actors = append([]string(nil), m.Actors...)
	out.Pictures = append([]Picture(nil), m.Pictures...)
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// Field returns the value of a named property as used by search and sort
// (dc:/upnp: names). Empty string means "missing".
func (m *Metas) Field(name string) string {
	if m == nil {
		return ""
	}
	switch name {
	case "dc:title":
		return m.Title
	case "upnp:album":
		return m.Album
	case "upnp:artist", "dc:creator":
		if len(m.Artists) > 0 {
			return m.Artists[0]
		}
		return m.AlbumArtist
	case "upnp:genre":
		if len(m.Genres) > 0 {
			return m.Genres[0]
		}
	case "upnp:author", "dc:author":
		if len(m.Composers) > 0 {
			return m.Composers[0]
		}
	case "upnp:actor":
		if len(m.Actors) > 0 {
			return m.Actors[0]
		}
	case "dc:date", "upnp:year":
		if m.Year != 0 {
			return strconv.Itoa(m.Year)
		}
	case "upnp:originalTrackNumber":
		if m.Track != 0 {
			return strconv.Itoa(m.Track)
		}
	case "upnp:rating":
		if m.Rating != 0 {
			return strconv.Itoa(m.Rating)
		}
	default:
		if m.Extra != nil {
			return m.Extra[name]
		}
	}
	return ""
}

