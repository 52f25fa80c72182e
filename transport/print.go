package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/keyshare-backup/interfaces"
)

var sheetTemplate = template.Must(template.New("sheet").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2cm; }
img { width: 12cm; height: 12cm; display: block; margin: 1cm 0; }
p { font-size: 10pt; }
</style>
</head>
<body>
<div>{{.Label}}</div>
<h2>{{.Title}}</h2>
<img src="{{.Image}}" alt="QR code">
{{range .Hints}}<p>{{.}}</p>
{{end}}</body>
</html>
`))

type sheet struct {
	Label string
	Title string
	Image template.URL
	Hints []string
}

// PrintChannel renders printable sheets, a QR code labelled with the
// recipient name, into a directory.
type PrintChannel struct {
	dir string
	log *slog.Logger
}

// NewPrintChannel creates a print channel writing into dir.
func NewPrintChannel(dir string, log *slog.Logger) (*PrintChannel, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create print directory: %w", err)
	}
	return &PrintChannel{dir: dir, log: log}, nil
}

func (p *PrintChannel) Method() interfaces.SendMethod {
	return interfaces.MethodPrint
}

// Send writes <recipient>.html ready for printing.
func (p *PrintChannel) Send(ctx context.Context, d interfaces.Delivery) error {
	page, err := RenderSheet(d)
	if err != nil {
		return err
	}

	filePath := filepath.Join(p.dir, fileName(d.Recipient, ".html"))
	if err := os.WriteFile(filePath, page, 0600); err != nil {
		return fmt.Errorf("failed to write print sheet: %w", err)
	}

	p.log.Info("print sheet written", "recipient", d.Recipient, "path", filePath)
	return nil
}

// RenderSheet renders a delivery as a printable HTML page.
func RenderSheet(d interfaces.Delivery) ([]byte, error) {
	png, err := RenderQR(d.Payload, QRSize)
	if err != nil {
		return nil, err
	}

	title := d.Subject
	if title == "" {
		title = "Key part"
	}

	var buf bytes.Buffer
	err = sheetTemplate.Execute(&buf, sheet{
		Label: d.Recipient,
		Title: title,
		Image: template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
		Hints: []string{
			"Keep this sheet in a safe place.",
			"Scan the code with the key backup tool to return it to its owner.",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render print sheet: %w", err)
	}
	return buf.Bytes(), nil
}
