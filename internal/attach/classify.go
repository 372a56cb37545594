package attach

import (
	"net/url"
	"path"
	"strings"

	"github.com/appointly/chatsync/internal/core"
)

// docExtensions are path suffixes treated as documents when rendering
// inbound attachments. The transport does not supply a reliable
// content-type for historical messages, so classification is a heuristic
// over the URL alone.
var docExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".ppt":  {},
	".pptx": {},
	".txt":  {},
	".csv":  {},
	".zip":  {},
}

// docPathMarkers are known document-hosting path patterns.
var docPathMarkers = []string{"/documents/", "/files/"}

// Classify maps an attachment URL to a display kind. Anything that is not
// recognizably a document is treated as an image; an empty URL is unknown.
func Classify(rawURL string) core.AttachmentKind {
	if rawURL == "" {
		return core.KindUnknown
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ToLower(p)

	if _, ok := docExtensions[path.Ext(p)]; ok {
		return core.KindDocument
	}
	for _, marker := range docPathMarkers {
		if strings.Contains(p, marker) {
			return core.KindDocument
		}
	}
	return core.KindImage
}
