package render

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// EncodeQR renders the payload into a PNG suitable for embedding and storage.
func EncodeQR(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("qr payload required")
	}
	if size <= 0 {
		size = 512
	}
	png, err := qrcode.Encode(payload, qrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
