// Package transport delivers encoded key parts and backup ciphertexts out of
// band: as QR images, printable sheets and email attachments.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/skip2/go-qrcode"
)

// QRSize is the edge length in pixels of rendered QR images.
const QRSize = 1024

// RenderQR encodes payload as a PNG QR code. Payloads up to the transport
// ceiling fit a version 40 code at the lowest recovery level.
func RenderQR(payload string, size int) ([]byte, error) {
	if err := keypart.CheckTransportSize(payload); err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(payload, qrcode.Low, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}

// QRChannel writes QR images into a directory, one file per recipient, and
// optionally draws them on a terminal.
type QRChannel struct {
	dir      string
	terminal io.Writer
	log      *slog.Logger
}

// NewQRChannel creates a QR channel writing into dir. terminal may be nil.
func NewQRChannel(dir string, terminal io.Writer, log *slog.Logger) (*QRChannel, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create QR directory: %w", err)
	}
	return &QRChannel{dir: dir, terminal: terminal, log: log}, nil
}

func (q *QRChannel) Method() interfaces.SendMethod {
	return interfaces.MethodQR
}

// Send renders the payload and writes <recipient>.png.
func (q *QRChannel) Send(ctx context.Context, d interfaces.Delivery) error {
	png, err := RenderQR(d.Payload, QRSize)
	if err != nil {
		return err
	}

	filePath := filepath.Join(q.dir, fileName(d.Recipient, ".png"))
	if err := os.WriteFile(filePath, png, 0600); err != nil {
		return fmt.Errorf("failed to write QR image: %w", err)
	}

	if q.terminal != nil {
		qr, err := qrcode.New(d.Payload, qrcode.Low)
		if err != nil {
			return fmt.Errorf("failed to render QR code: %w", err)
		}
		fmt.Fprintf(q.terminal, "%s\n%s\n", d.Recipient, qr.ToString(false))
	}

	q.log.Info("QR code written", "recipient", d.Recipient, "path", filePath)
	return nil
}

// fileName turns a display name into a safe file name.
func fileName(name, ext string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ', r == '.':
			return '_'
		}
		return -1
	}, name)
	if clean == "" {
		clean = "keypart"
	}
	return clean + ext
}
