package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/urfave/cli/v2"
)

var userCommand = &cli.Command{
	Name:  "user",
	Usage: "Manage the user display name written into key parts",
	Subcommands: []*cli.Command{
		{
			Name:      "set-name",
			Usage:     "Set the user display name",
			ArgsUsage: "<name>",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				name := strings.TrimSpace(strings.Join(cCtx.Args().Slice(), " "))
				if name == "" {
					return fmt.Errorf("missing name")
				}
				prefs, err := d.store.Preferences(cCtx.Context)
				if err != nil {
					return err
				}
				prefs.UserName = name
				if err := d.store.SavePreferences(cCtx.Context, prefs); err != nil {
					return err
				}
				d.log.Info("user name set", "name", name)
				return nil
			}),
		},
		{
			Name:  "show",
			Usage: "Print the user display name",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				prefs, err := d.store.Preferences(cCtx.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, prefs.UserName)
				return nil
			}),
		},
	},
}

var initCommand = &cli.Command{
	Name:    "init",
	Aliases: []string{"split"},
	Usage:   "Create the container keypair and split it into key parts",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Value: "primary", Usage: "container name"},
		&cli.IntFlag{Name: "threshold", Aliases: []string{"m"}, Value: 2, Usage: "key parts needed to restore (M)"},
		&cli.IntFlag{Name: "total", Aliases: []string{"n"}, Value: 3, Usage: "key parts to create (N)"},
	},
	Action: withDevice(func(cCtx *cli.Context, d *device) error {
		ctx := cCtx.Context
		active, err := d.manager.Active(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			return interfaces.ErrAlreadySplit
		}

		c, err := d.manager.NewContainer(cCtx.String("name"), cCtx.Int("threshold"), cCtx.Int("total"))
		if err != nil {
			return err
		}
		parts, err := d.manager.Split(ctx, c)
		if err != nil {
			return err
		}

		// Key parts must fit a single QR code.
		for _, kp := range parts {
			if _, err := keypart.Encode(kp, c.Threshold); err != nil {
				return err
			}
		}

		fmt.Fprintf(cCtx.App.Writer, "container %q split into %d key parts, %d needed to restore\n", c.Name, c.Total, c.Threshold)
		return nil
	}),
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Show the container and key part distribution",
	Action: withDevice(func(cCtx *cli.Context, d *device) error {
		ctx := cCtx.Context
		w := cCtx.App.Writer

		prefs, err := d.store.Preferences(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "user:        %s\n", prefs.UserName)
		fmt.Fprintf(w, "key shared:  %t\n", prefs.KeyShared)

		c, err := d.manager.Active(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Fprintln(w, "container:   none")
		} else {
			spares, err := d.manager.SparesAvailable(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "container:   %s (%d of %d)\n", c.Name, c.Threshold, c.Total)
			fmt.Fprintf(w, "split:       %s\n", humanize.Time(time.UnixMilli(c.Timestamp)))
			fmt.Fprintf(w, "spares:      %d\n", len(spares))
		}

		foreign, err := d.store.ListKeyParts(ctx, interfaces.ForeignKeyParts())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "held parts:  %d\n", len(foreign))
		for _, kp := range foreign {
			fmt.Fprintf(w, "  %d  %s  %s\n", kp.ID, kp.Owner, humanize.Time(time.UnixMilli(kp.Timestamp)))
		}
		return nil
	}),
}
