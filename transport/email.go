package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// SMTPConfig configures the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string

	// From is the sender address. Deliveries without a recipient address go
	// here, e.g. backups mailed to oneself.
	From string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	port := c.Port
	if port == "" {
		port = "587"
	}
	return net.JoinHostPort(c.Host, port)
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel mails the payload as a QR image attachment. A copy of each
// attachment is kept in the attachment directory until CleanAttachments.
type EmailChannel struct {
	cfg           SMTPConfig
	attachmentDir string
	log           *slog.Logger

	sendMail sendMailFunc
}

// NewEmailChannel creates an email channel. attachmentDir may be empty.
func NewEmailChannel(cfg SMTPConfig, attachmentDir string, log *slog.Logger) (*EmailChannel, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("%w: smtp host and sender address are required", interfaces.ErrConfiguration)
	}
	if attachmentDir != "" {
		if err := os.MkdirAll(attachmentDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create attachment directory: %w", err)
		}
	}
	return &EmailChannel{
		cfg:           cfg,
		attachmentDir: attachmentDir,
		log:           log,
		sendMail:      smtp.SendMail,
	}, nil
}

func (e *EmailChannel) Method() interfaces.SendMethod {
	return interfaces.MethodEmail
}

// Send mails the delivery to d.Email, or to the sender address when empty.
func (e *EmailChannel) Send(ctx context.Context, d interfaces.Delivery) error {
	to := d.Email
	if to == "" {
		to = e.cfg.From
	}

	png, err := RenderQR(d.Payload, QRSize)
	if err != nil {
		return err
	}
	attachment := fileName(d.Recipient, ".png")

	if e.attachmentDir != "" {
		if err := os.WriteFile(filepath.Join(e.attachmentDir, attachment), png, 0600); err != nil {
			return fmt.Errorf("failed to write attachment: %w", err)
		}
	}

	msg, err := buildMessage(e.cfg.From, to, d.Subject, mailBody(d), attachment, png)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := e.sendMail(e.cfg.Addr(), auth, e.cfg.From, []string{to}, msg); err != nil {
		e.log.Error("failed to send email", "to", to, "err", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.log.Info("email sent", "to", to, "recipient", d.Recipient)
	return nil
}

// CleanAttachments deletes the files kept in the attachment directory.
func (e *EmailChannel) CleanAttachments() error {
	return CleanAttachments(e.attachmentDir)
}

// CleanAttachments deletes the regular files in dir. A missing directory is
// not an error.
func CleanAttachments(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read attachment directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mailBody(d interfaces.Delivery) string {
	return fmt.Sprintf("Hello %s,\r\n\r\nattached is a QR code for safekeeping. "+
		"Please store it somewhere safe and do not share it.\r\n", d.Recipient)
}

func buildMessage(from, to, subject, body, attachment string, png []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(body)); err != nil {
		return nil, err
	}

	image, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"image/png"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", attachment)},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(png)
	for len(encoded) > 76 {
		image.Write([]byte(encoded[:76] + "\r\n"))
		encoded = encoded[76:]
	}
	image.Write([]byte(encoded + "\r\n"))

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
