// Package storage keeps attachment and exported PDF blobs.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob backend behind MoM attachments and PDF archives.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by stores that can hand out direct download URLs.
// downloadName becomes the browser's save-as filename.
type Presigner interface {
	PresignGet(ctx context.Context, key, downloadName string, expiry time.Duration) (string, error)
}

// AttachmentDisposition formats a Content-Disposition value that forces a
// download under name.
func AttachmentDisposition(name string) string {
	if name == "" {
		return "attachment"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
