// Package blob offloads media payloads out of the message rows and returns a
// resource reference to store as message content.
package blob

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType, prefix string) (string, error)
}

var knownExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"application/pdf": ".pdf",
}

// objectName builds "<prefix>/<uuid><ext>" with a clean, slash-separated prefix.
func objectName(prefix, contentType string) string {
	ext := ""
	base := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if e, ok := knownExtensions[base]; ok {
		ext = e
	} else if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	name := uuid.NewString() + ext
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
