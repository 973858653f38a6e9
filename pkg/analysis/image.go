package analysis

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
)

// EncodeImageBase64 encodes an image to base64 JPEG format.
func EncodeImageBase64(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
