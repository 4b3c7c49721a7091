package qrcode

import (
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// Encoder renders payload text as a PNG QR code.
type Encoder struct {
	Size  int
	Level qr.RecoveryLevel
}

// New creates an encoder producing size x size images.
func New(size int) *Encoder {
	if size <= 0 {
		size = 300
	}
	return &Encoder{Size: size, Level: qr.Medium}
}

// PNG encodes text into PNG bytes.
func (e *Encoder) PNG(text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("qrcode: empty payload")
	}
	png, err := qr.Encode(text, e.Level, e.Size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode failed: %w", err)
	}
	return png, nil
}
