package render

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
)

// ErrUnknownFormat is returned for an unsupported snapshot format.
var ErrUnknownFormat = errors.New("render: unknown image format")

// Format is a snapshot encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat accepts "jpeg", "jpg" or "png", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpeg", "jpg", "":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Encode writes img in the given format. quality applies to JPEG only.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG, "":
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}
