package hierarchy

import (
	"strconv"

	"github.com/agentic-research/mediatree/internal/meta"
)

// Level is one step of a grouping chain: the class of the containers it
// synthesizes and the metadata values (possibly several) that name them.
// UnknownKey is the label used when a file carries no value for the level.
type Level struct {
	Class      string
	UnknownKey string
	Values     func(m *meta.Metas) []string
}

// Task is one ordered grouping rule of a collection: a labelled top
// folder and the chain of levels beneath it. Tasks run in declaration
// order for each file.
type Task struct {
	LabelKey string
	Class    string
	Levels   []Level
}

// MusicTasks is the grouping rule set for music collections.
func MusicTasks() []Task {
	album := Level{
		Class:      "object.container.album.musicAlbum",
		UnknownKey: "unknownAlbum",
		Values: func(m *meta.Metas) []string {
			if m.Album == "" {
				return nil
			}
			return []string{m.Album}
		},
	}
	return []Task{
		{
			LabelKey: "byAlbum",
			Class:    "object.container",
			Levels:   []Level{album},
		},
		{
			LabelKey: "byArtist",
			Class:    "object.container",
			Levels: []Level{
				{
					Class:      "object.container.person.musicArtist",
					UnknownKey: "unknownArtist",
					Values:     func(m *meta.Metas) []string { return m.Artists },
				},
				album,
			},
		},
		{
			LabelKey: "byGenre",
			Class:    "object.container",
			Levels: []Level{
				{
					Class:      "object.container.genre.musicGenre",
					UnknownKey: "unknownGenre",
					Values:     func(m *meta.Metas) []string { return m.Genres },
				},
				album,
			},
		},
	}
}

// MovieTasks is the grouping rule set for movie collections.
func MovieTasks() []Task {
	return []Task{
		{
			LabelKey: "byActor",
			Class:    "object.container",
			Levels: []Level{{
				Class:      "object.container.person",
				UnknownKey: "unknownActor",
				Values:     func(m *meta.Metas) []string { return m.Actors },
			}},
		},
		{
			LabelKey: "byGenre",
			Class:    "object.container",
			Levels: []Level{{
				Class:      "object.container.genre.movieGenre",
				UnknownKey: "unknownGenre",
				Values:     func(m *meta.Metas) []string { return m.Genres },
			}},
		},
		{
			LabelKey: "byTitle",
			Class:    "object.container",
			Levels: []Level{{
				Class:      "object.container",
				UnknownKey: "unknownTitle",
				Values: func(m *meta.Metas) []string {
					if m.OriginalTitle == "" {
						return nil
					}
					return []string{m.OriginalTitle}
				},
			}},
		},
		{
			LabelKey: "byYear",
			Class:    "object.container",
			Levels: []Level{{
				Class:      "object.container",
				UnknownKey: "unknownYear",
				Values: func(m *meta.Metas) []string {
					if m.Year == 0 {
						return nil
					}
					return []string{strconv.Itoa(m.Year)}
				},
			}},
		},
	}
}
