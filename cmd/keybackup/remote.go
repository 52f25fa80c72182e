package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ruteri/keyshare-backup/api"
	"github.com/ruteri/keyshare-backup/api/clients"
	"github.com/ruteri/keyshare-backup/cmd/flags"
	"github.com/urfave/cli/v2"
)

func remoteClient(cCtx *cli.Context) *clients.DeviceClient {
	return clients.NewDeviceClient(cCtx.String(flags.ServerURLFlag.Name))
}

func printJSON(cCtx *cli.Context, v any) error {
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// payloadArg reads a key part payload from the arguments or stdin.
func payloadArg(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() > 0 {
		return strings.Join(cCtx.Args().Slice(), " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	payload := strings.TrimSpace(string(data))
	if payload == "" {
		return "", errors.New("missing key part payload")
	}
	return payload, nil
}

var remoteCommand = &cli.Command{
	Name:  "remote",
	Usage: "Talk to a running device API",
	Flags: []cli.Flag{flags.ServerURLFlag},
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "Show the remote device status",
			Action: func(cCtx *cli.Context) error {
				status, err := remoteClient(cCtx).Status()
				if err != nil {
					return err
				}
				return printJSON(cCtx, status)
			},
		},
		{
			Name:  "contacts",
			Usage: "List the remote device contacts",
			Action: func(cCtx *cli.Context) error {
				list, err := remoteClient(cCtx).Contacts()
				if err != nil {
					return err
				}
				return printJSON(cCtx, list)
			},
		},
		{
			Name:  "backups",
			Usage: "List the remote device backups",
			Action: func(cCtx *cli.Context) error {
				list, err := remoteClient(cCtx).Backups()
				if err != nil {
					return err
				}
				return printJSON(cCtx, list)
			},
		},
		{
			Name:      "scan",
			Usage:     "Hand a key part held for someone else to the remote device",
			ArgsUsage: "[payload]",
			Action: func(cCtx *cli.Context) error {
				payload, err := payloadArg(cCtx)
				if err != nil {
					return err
				}
				res, err := remoteClient(cCtx).Scan(payload)
				if err != nil {
					return err
				}
				return printJSON(cCtx, res)
			},
		},
		{
			Name:  "restore",
			Usage: "Drive a restore session on the remote device",
			Subcommands: []*cli.Command{
				{
					Name:  "status",
					Usage: "Show the restore session state",
					Action: func(cCtx *cli.Context) error {
						status, err := remoteClient(cCtx).RestoreStatus()
						if err != nil {
							return err
						}
						return printJSON(cCtx, status)
					},
				},
				{
					Name:  "init",
					Usage: "Open a restore session",
					Flags: []cli.Flag{
						&cli.IntFlag{Name: "threshold", Usage: "key parts needed, learned from the first key part when 0"},
					},
					Action: func(cCtx *cli.Context) error {
						return remoteClient(cCtx).InitRestore(cCtx.Int("threshold"))
					},
				},
				{
					Name:      "share",
					Usage:     "Submit a key part to the restore session",
					ArgsUsage: "[payload]",
					Action: func(cCtx *cli.Context) error {
						payload, err := payloadArg(cCtx)
						if err != nil {
							return err
						}
						status, err := remoteClient(cCtx).SubmitShare(payload)
						if err != nil {
							return err
						}
						return printJSON(cCtx, status)
					},
				},
				{
					Name:  "backup",
					Usage: "Decrypt a backup with the collected key parts",
					Flags: []cli.Flag{
						&cli.Int64Flag{Name: "id", Usage: "backup id on the remote device"},
						&cli.StringFlag{Name: "ciphertext-file", Usage: "file holding the base64 ciphertext"},
						&cli.StringFlag{Name: "out", Usage: "write plaintext to this file instead of stdout"},
					},
					Action: func(cCtx *cli.Context) error {
						req := api.RestoreRequest{BackupID: cCtx.Int64("id")}
						if path := cCtx.String("ciphertext-file"); path != "" {
							data, err := os.ReadFile(path)
							if err != nil {
								return err
							}
							req.Ciphertext = string(data)
						}
						if req.BackupID == 0 && req.Ciphertext == "" {
							return fmt.Errorf("need --id or --ciphertext-file")
						}

						plaintext, err := remoteClient(cCtx).RestoreBackup(req)
						if err != nil {
							return err
						}
						return writePlaintext(cCtx, plaintext)
					},
				},
			},
		},
	},
}
