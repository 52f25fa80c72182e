package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/provenance"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/ruteri/keyshare-backup/scanner"
	"github.com/ruteri/keyshare-backup/transport"
	"github.com/urfave/cli/v2"
)

var shareCommand = &cli.Command{
	Name:  "share",
	Usage: "Render own key parts",
	Subcommands: []*cli.Command{
		{
			Name:      "encode",
			Usage:     "Print the transport text of a key part",
			ArgsUsage: "<key-part-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "qr", Usage: "also write a PNG QR code to this file"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				id, err := idArg(cCtx, "key part")
				if err != nil {
					return err
				}
				kp, err := d.store.FindKeyPart(cCtx.Context, id)
				if err != nil {
					return fmt.Errorf("key part %d: %w", id, err)
				}
				text, err := keypart.Encode(kp, kp.Threshold)
				if err != nil {
					return err
				}

				if path := cCtx.String("qr"); path != "" {
					png, err := transport.RenderQR(text, transport.QRSize)
					if err != nil {
						return err
					}
					if err := os.WriteFile(path, png, 0o600); err != nil {
						return err
					}
				}
				fmt.Fprintln(cCtx.App.Writer, text)
				return nil
			}),
		},
	},
}

// scanListener prints outcomes and signals each processed payload until
// stop is closed.
type scanListener struct {
	w         io.Writer
	processed chan struct{}
	stop      <-chan struct{}
	rejected  int
}

func (l *scanListener) signal() {
	select {
	case l.processed <- struct{}{}:
	case <-l.stop:
	}
}

func (l *scanListener) KeyPartDetected(res *scanner.Result) {
	switch {
	case res.Duplicate:
		fmt.Fprintf(l.w, "duplicate key part of %q\n", res.KeyPart.Owner)
	case res.Holder != nil:
		fmt.Fprintf(l.w, "key part %d received back from %s\n", res.KeyPart.ID, res.Holder.Name)
	default:
		fmt.Fprintf(l.w, "key part %d of %q stored\n", res.KeyPart.ID, res.KeyPart.Owner)
	}
	l.signal()
}

func (l *scanListener) WrongKeyPart(payload string, err error) {
	l.rejected++
	var provErr *interfaces.ProvenanceError
	if errors.As(err, &provErr) {
		fmt.Fprintf(l.w, "wrong key part: %s\n", provErr.Rule)
	} else {
		fmt.Fprintf(l.w, "wrong key part: %v\n", err)
	}
	l.signal()
}

var scanCommand = &cli.Command{
	Name:  "scan",
	Usage: "Ingest key part payloads, one per line",
	Description: "Reads transport text from --file or stdin. Own key parts are scanned back\n" +
		"by default, --foreign stores key parts held for other people. With --restore\n" +
		"the scanned key parts are collected and used to decrypt a backup.",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Usage: "read payloads from this file instead of stdin"},
		&cli.BoolFlag{Name: "foreign", Usage: "key parts belong to someone else"},
		&cli.BoolFlag{Name: "ignore-origin", Usage: "skip owner and timestamp checks"},
		&cli.BoolFlag{Name: "restore", Usage: "restore a backup from the scanned key parts"},
		&cli.Int64Flag{Name: "backup", Usage: "backup id to restore"},
		&cli.StringFlag{Name: "ciphertext-file", Usage: "file holding the base64 ciphertext to restore"},
		&cli.StringFlag{Name: "out", Usage: "write restored plaintext to this file instead of stdout"},
	},
	Action: withDevice(func(cCtx *cli.Context, d *device) error {
		ctx, cancel := context.WithCancel(cCtx.Context)
		defer cancel()

		in := os.Stdin
		if path := cCtx.String("file"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		mode := provenance.Mode{
			Foreign:      cCtx.Bool("foreign"),
			IgnoreOrigin: cCtx.Bool("ignore-origin"),
		}

		var collector *recovery.Collector
		var container *interfaces.Container
		if cCtx.Bool("restore") {
			if mode.Foreign {
				return errors.New("--restore and --foreign are exclusive")
			}
			c, err := d.manager.Active(ctx)
			if err != nil {
				return err
			}
			threshold := 0
			if c == nil {
				// A new device checks nothing about the shares' origin.
				mode.IgnoreOrigin = true
			} else {
				threshold = c.Threshold
			}
			container = c
			collector = recovery.NewCollector(threshold)
		}

		ingester := scanner.NewIngester(d.store, d.tracker, mode, d.log)
		if collector != nil {
			ingester.WithCollector(collector)
		}

		listener := &scanListener{w: cCtx.App.ErrWriter, processed: make(chan struct{}, 1), stop: ctx.Done()}
		reader := scanner.NewReader(ingester, listener, d.log)
		if err := reader.Start(ctx); err != nil {
			return err
		}
		defer reader.Close()

		submitted := 0
		lines := bufio.NewScanner(in)
		lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for lines.Scan() {
			payload := strings.TrimSpace(lines.Text())
			if payload == "" {
				continue
			}
			if err := reader.Submit(payload); err != nil {
				return err
			}
			submitted++
		}
		if err := lines.Err(); err != nil {
			return err
		}

		for i := 0; i < submitted; i++ {
			select {
			case <-listener.processed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d.log.Info("scan finished", "payloads", submitted, "rejected", listener.rejected)

		if collector == nil {
			return nil
		}
		if !collector.Ready() && collector.Threshold() > 0 {
			return &interfaces.ReconstructionError{Have: collector.Count(), Need: collector.Threshold()}
		}

		ciphertext, err := restoreCiphertext(cCtx, d)
		if err != nil {
			return err
		}
		var plaintext []byte
		if container != nil {
			plaintext, err = d.flow.RestoreBackup(container, collector.Shares(), ciphertext)
			collector.Reset()
		} else {
			plaintext, err = collector.Restore(d.flow, ciphertext)
		}
		if err != nil {
			return err
		}
		defer interfaces.Wipe(plaintext)
		return writePlaintext(cCtx, plaintext)
	}),
}

// restoreCiphertext reads the ciphertext named by --backup or --ciphertext-file.
func restoreCiphertext(cCtx *cli.Context, d *device) (string, error) {
	if path := cCtx.String("ciphertext-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	id := cCtx.Int64("backup")
	if id <= 0 {
		return "", errors.New("--restore needs --backup or --ciphertext-file")
	}
	b, err := d.store.FindBackup(cCtx.Context, id)
	if err != nil {
		return "", fmt.Errorf("backup %d: %w", id, err)
	}
	if err := d.flow.Fetch(cCtx.Context, b); err != nil {
		return "", err
	}
	return b.Ciphertext, nil
}

func writePlaintext(cCtx *cli.Context, plaintext []byte) error {
	if path := cCtx.String("out"); path != "" {
		return os.WriteFile(path, plaintext, 0o600)
	}
	_, err := cCtx.App.Writer.Write(plaintext)
	return err
}
