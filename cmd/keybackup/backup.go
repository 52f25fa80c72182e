package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/keyshare-backup/cmd/flags"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/ruteri/keyshare-backup/transport"
	"github.com/urfave/cli/v2"
)

func printBackups(w io.Writer, list []*interfaces.Backup) {
	for _, b := range list {
		data := "no local data"
		if b.HasCiphertext() {
			data = humanize.Bytes(uint64(len(b.Ciphertext)))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\tcreated %s\t%s", b.ID, b.Name, b.StoreMethod, humanize.Time(b.CreatedAt), data)
		if b.InCloud() {
			fmt.Fprintf(w, "\t%s", b.Locator)
		}
		fmt.Fprintln(w)
	}
}

var backupCommand = &cli.Command{
	Name:  "backup",
	Usage: "Encrypt, store and restore backups",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Encrypt a secret to the container key and store it",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "backup name, generated when empty"},
				&cli.StringFlag{Name: "file", Usage: "read the secret from this file instead of stdin"},
				&cli.StringFlag{Name: "store", Value: "CLOUD", Usage: "store method: EMAIL, PRINT or CLOUD"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				ctx := cCtx.Context
				method, err := interfaces.ParseStoreMethod(cCtx.String("store"))
				if err != nil {
					return err
				}
				c, err := d.activeContainer(ctx)
				if err != nil {
					return err
				}

				var plaintext []byte
				if path := cCtx.String("file"); path != "" {
					plaintext, err = os.ReadFile(path)
				} else {
					plaintext, err = io.ReadAll(os.Stdin)
				}
				if err != nil {
					return err
				}
				defer interfaces.Wipe(plaintext)

				b, err := d.flow.CreateBackup(c, cCtx.String("name"))
				if err != nil {
					return err
				}
				if err := d.flow.Seal(b, plaintext); err != nil {
					return err
				}
				if err := d.flow.Store(ctx, b, method); err != nil {
					return err
				}
				printBackups(cCtx.App.Writer, []*interfaces.Backup{b})
				return nil
			}),
		},
		{
			Name:  "list",
			Usage: "List backups, oldest first",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "local", Usage: "only backups whose ciphertext is kept locally"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				list, err := d.flow.List(cCtx.Context, interfaces.BackupFilter{WithCiphertext: cCtx.Bool("local")})
				if err != nil {
					return err
				}
				printBackups(cCtx.App.Writer, list)
				return nil
			}),
		},
		{
			Name:      "store",
			Usage:     "Store an existing backup again by another method",
			ArgsUsage: "<backup-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "method", Value: "CLOUD", Usage: "store method: EMAIL, PRINT or CLOUD"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				method, err := interfaces.ParseStoreMethod(cCtx.String("method"))
				if err != nil {
					return err
				}
				b, err := d.backupArg(cCtx)
				if err != nil {
					return err
				}
				if err := d.flow.Fetch(cCtx.Context, b); err != nil {
					return err
				}
				if err := d.flow.Store(cCtx.Context, b, method); err != nil {
					return err
				}
				printBackups(cCtx.App.Writer, []*interfaces.Backup{b})
				return nil
			}),
		},
		{
			Name:      "fetch",
			Usage:     "Print the ciphertext of a backup, downloading it from the cloud if needed",
			ArgsUsage: "<backup-id>",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				b, err := d.backupArg(cCtx)
				if err != nil {
					return err
				}
				if err := d.flow.Fetch(cCtx.Context, b); err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, b.Ciphertext)
				return nil
			}),
		},
		{
			Name:      "remove-data",
			Usage:     "Drop the locally kept ciphertext of a backup",
			ArgsUsage: "<backup-id>",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				b, err := d.backupArg(cCtx)
				if err != nil {
					return err
				}
				if !b.InCloud() {
					d.log.Warn("backup is not in the cloud, its ciphertext only survives in sent copies", "name", b.Name)
				}
				return d.flow.RemoveData(cCtx.Context, b)
			}),
		},
		{
			Name:      "restore",
			Usage:     "Decrypt a backup with key part payloads read from a file, one per line",
			ArgsUsage: "<backup-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "shares", Required: true, Usage: "file of key part payloads"},
				&cli.StringFlag{Name: "out", Usage: "write plaintext to this file instead of stdout"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				ctx := cCtx.Context
				b, err := d.backupArg(cCtx)
				if err != nil {
					return err
				}
				if err := d.flow.Fetch(ctx, b); err != nil {
					return err
				}

				threshold := 0
				c, err := d.manager.Active(ctx)
				if err != nil {
					return err
				}
				if c != nil && c.Timestamp == b.Timestamp {
					threshold = c.Threshold
				}

				collector, err := collectShares(cCtx.String("shares"), threshold)
				if err != nil {
					return err
				}
				plaintext, err := collector.Restore(d.flow, b.Ciphertext)
				if err != nil {
					return err
				}
				defer interfaces.Wipe(plaintext)
				return writePlaintext(cCtx, plaintext)
			}),
		},
	},
}

// collectShares decodes key parts from path without persisting them.
func collectShares(path string, threshold int) (*recovery.Collector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	collector := recovery.NewCollector(threshold)
	lines := bufio.NewScanner(f)
	lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lines.Scan() {
		payload := strings.TrimSpace(lines.Text())
		if payload == "" {
			continue
		}
		kp, err := keypart.Decode(payload)
		if err != nil {
			return nil, err
		}
		collector.Add(kp)
	}
	if err := lines.Err(); err != nil {
		return nil, err
	}
	if collector.Count() == 0 {
		return nil, errors.New("no key parts found")
	}
	return collector, nil
}

var cleanAttachmentsCommand = &cli.Command{
	Name:  "clean-attachments",
	Usage: "Delete staged email attachments",
	Action: func(cCtx *cli.Context) error {
		return transport.CleanAttachments(cCtx.String(flags.AttachmentDirFlag.Name))
	},
}
