package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/ruteri/keyshare-backup/cmd/flags"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "keybackup",
		Usage: "Back up secrets with a key split among trusted contacts",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...), flags.DeviceFlags...),
		Before: func(cCtx *cli.Context) error {
			// A missing .env file is not an error.
			_ = godotenv.Load()
			return nil
		},
		Commands: []*cli.Command{
			userCommand,
			initCommand,
			statusCommand,
			contactsCommand,
			shareCommand,
			scanCommand,
			backupCommand,
			cleanAttachmentsCommand,
			serveCommand,
			remoteCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
