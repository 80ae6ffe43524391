package core

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultImageMimeType is assumed when the type cannot be determined.
const DefaultImageMimeType = "image/jpeg"

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Image is the product image shown to every consumer in a run.
type Image struct {
	Data     []byte
	MimeType string
}

// NewImage builds an image, sniffing the MIME type when mimeType is empty.
func NewImage(data []byte, mimeType string) (Image, error) {
	if len(data) == 0 {
		return Image{}, &ValidationError{Field: "image", Message: "image is empty"}
	}
	if mimeType == "" {
		mimeType = sniffImageType(data)
	}
	return Image{Data: data, MimeType: mimeType}, nil
}

// DecodeImage decodes a base64 payload. A "data:<mime>;base64," prefix is accepted
// and its MIME type used.
func DecodeImage(encoded string) (Image, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Image{}, &ValidationError{Field: "image", Message: "image is required"}
	}
	var mimeType string
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return Image{}, &ValidationError{Field: "image", Message: "malformed data URL"}
		}
		meta := encoded[len("data:"):comma]
		mimeType, _, _ = strings.Cut(meta, ";")
		encoded = encoded[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return Image{}, &ValidationError{Field: "image", Message: "invalid base64: " + err.Error()}
		}
	}
	return NewImage(data, mimeType)
}

// LoadImage reads an image file; the MIME type comes from the extension.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("core: load image: %w", err)
	}
	mimeType, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mimeType = DefaultImageMimeType
	}
	return NewImage(data, mimeType)
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string { return base64.StdEncoding.EncodeToString(i.Data) }

// DataURL returns the image as a data URL.
func (i Image) DataURL() string {
	return "data:" + i.MimeType + ";base64," + i.Base64()
}

// IsZero reports whether the image holds no data.
func (i Image) IsZero() bool { return len(i.Data) == 0 }

func sniffImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return DefaultImageMimeType
}
