package meta

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// ErrUnsupported is returned for files no content handler understands.
var ErrUnsupported = fmt.Errorf("unsupported media type")

// Extractor turns a content locator into a metadata record.
// Implementations are expected to be cheap to copy and safe for
// concurrent use.
type Extractor interface {
	Extract(path string, r io.ReadSeeker) (*Metas, error)
}

// TagExtractor reads ID3v1/v2, Vorbis and MP4 tags.
type TagExtractor struct{}

func (TagExtractor) Extract(path string, r io.ReadSeeker) (*Metas, error) {
	md, err := tag.ReadFrom(r)
	if err != nil {
		if err == tag.ErrNoTagsFound {
			// Untagged files still get a title from the file name.
			return &Metas{Title: TitleFromPath(path), MIMEType: MIMEFromPath(path)}, nil
		}
		return nil, fmt.Errorf("read tags %s: %w", path, err)
	}

	m := &Metas{
		Title:       md.Title(),
		Album:       md.Album(),
		AlbumArtist: md.AlbumArtist(),
		Year:        md.Year(),
		MIMEType:    MIMEFromPath(path),
	}
	if m.Title == "" {
		m.Title = TitleFromPath(path)
	}
	if a := md.Artist(); a != "" {
		m.Artists = splitList(a)
	}
	if g := md.Genre(); g != "" {
		m.Genres = splitList(g)
	}
	if c := md.Composer(); c != "" {
		m.Composers = splitList(c)
	}
	m.Track, _ = md.Track()
	m.Disc, _ = md.Disc()
	if pic := md.Picture(); pic != nil {
		m.Pictures = append(m.Pictures, Picture{
			MIMEType:    pic.MIMEType,
			Description: pic.Description,
			Data:        pic.Data,
		})
	}
	return m, nil
}

// TitleFromPath derives a display title from the base file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MIMEFromPath maps a file extension to its mime type, empty if unknown.
func MIMEFromPath(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}

// splitList breaks multi-value tag fields on the separators seen in the
// wild. Single values pass through untouched.
func splitList(v string) []string {
	seps := []string{"; ", ";", " / "}
	for _, sep := range seps {
		if strings.Contains(v, sep) {
			parts := strings.Split(v, sep)
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return []string{v}
}
