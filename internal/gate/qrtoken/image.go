package qrtoken

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// PNG renders an encoded payload as a scannable QR image. size is the
// output edge length in pixels; 400 matches what the resident portal
// displays and prints well.
func PNG(encoded string, size int) ([]byte, error) {
	if size <= 0 {
		size = 400
	}
	png, err := qrcode.Encode(encoded, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qrtoken: render png: %w", err)
	}
	return png, nil
}
