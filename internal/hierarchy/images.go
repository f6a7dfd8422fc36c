package hierarchy

import (
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/tree"
)

// ImageLink accumulates the tracks and cover-art files discovered in one
// directory. Files come back from a directory listing in no particular
// order, so images are attached only once the whole directory has been
// scanned.
type ImageLink struct {
	reg    *tree.Registry
	tracks []*tree.Node
	images []string
}

func NewImageLink(reg *tree.Registry) *ImageLink {
	return &ImageLink{reg: reg}
}

func (l *ImageLink) AddTrack(n *tree.Node) {
	if n != nil {
		l.tracks = append(l.tracks, n)
	}
}

func (l *ImageLink) AddImage(path string) {
	l.images = append(l.images, path)
}

// Link attaches every discovered image to every collected track and
// stamps the tracks' update ids. Tracks with embedded art keep it; the
// sidecar images are appended after. Published attribute bags are never
// mutated: the track gets a fresh bag swapped in whole.
func (l *ImageLink) Link() {
	if len(l.images) == 0 || len(l.tracks) == 0 {
		return
	}
	for _, t := range l.tracks {
		if t.Attrs == nil {
			continue
		}
		attrs := t.Attrs.Clone()
		changed := false
		for _, img := range l.images {
			if hasPicture(attrs, img) {
				continue
			}
			attrs.Pictures = append(attrs.Pictures, meta.Picture{
				Path:     img,
				MIMEType: meta.MIMEFromPath(img),
			})
			changed = true
		}
		if changed {
			_ = l.reg.RefreshAttrs(t.ID, attrs)
		}
	}
	l.tracks = nil
	l.images = nil
}

func hasPicture(m *meta.Metas, path string) bool {
	for _, p := range m.Pictures {
		if p.Path == path {
			return true
		}
	}
	return false
}
