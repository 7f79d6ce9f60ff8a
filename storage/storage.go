package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// BlobStore ist der Speicher für die rohen Upload-Dateien.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get liefert apperrors.ErrNotFound, wenn unter key nichts liegt.
	Get(ctx context.Context, key string) ([]byte, error)
	// Location gibt eine für Menschen lesbare Adresse des Objekts zurück.
	Location(key string) string
}

const uploadPrefix = "uploads/"

var uploadKeyPattern = regexp.MustCompile(`^uploads/([0-9a-fA-F-]{36})/([^/]+)$`)

// UploadKey baut den Blob-Schlüssel uploads/{upload_id}/{filename}.
func UploadKey(uploadID, filename string) string {
	return uploadPrefix + uploadID + "/" + filename
}

// ParseUploadKey extrahiert upload_id und Dateinamen aus einem Blob-Schlüssel.
func ParseUploadKey(key string) (uploadID, filename string, err error) {
	m := uploadKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", "", fmt.Errorf("blob key %q does not match uploads/{upload_id}/{filename}", key)
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return "", "", fmt.Errorf("blob key %q: invalid upload id: %w", key, err)
	}
	return id.String(), m[2], nil
}

// BaseName reduziert einen vom Client gelieferten Dateinamen auf seinen letzten Pfadteil.
func BaseName(filename string) string {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
