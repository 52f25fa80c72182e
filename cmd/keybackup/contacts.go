package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/urfave/cli/v2"
)

var errNoContactBook = errors.New("no contact book configured, set --contact-book")

func printContacts(w io.Writer, list []*interfaces.Contact) {
	for _, c := range list {
		keyPart := "-"
		if c.HasKeyPart() {
			keyPart = fmt.Sprint(c.KeyPartID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\tkey part %s\n", c.ID, c.Name, c.Email, c.SendStatus, c.SendMethod, keyPart)
	}
}

// contactAction loads the contact named by the first argument and runs fn on it.
func contactAction(fn func(ctx context.Context, d *device, c *interfaces.Contact) error) cli.ActionFunc {
	return withDevice(func(cCtx *cli.Context, d *device) error {
		c, err := d.contactArg(cCtx)
		if err != nil {
			return err
		}
		if err := fn(cCtx.Context, d, c); err != nil {
			return err
		}
		printContacts(cCtx.App.Writer, []*interfaces.Contact{c})
		return nil
	})
}

var contactsCommand = &cli.Command{
	Name:  "contacts",
	Usage: "Manage the contacts key parts are handed to",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Add a contact",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "email"},
				&cli.StringFlag{Name: "lookup-key", Usage: "contact book entry used by refresh"},
				&cli.Int64Flag{Name: "external-id", Usage: "contact book id used by refresh"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				c := &interfaces.Contact{
					Name:       cCtx.String("name"),
					Email:      cCtx.String("email"),
					LookupKey:  cCtx.String("lookup-key"),
					ExternalID: cCtx.Int64("external-id"),
				}
				if err := d.tracker.Add(cCtx.Context, c); err != nil {
					return err
				}
				printContacts(cCtx.App.Writer, []*interfaces.Contact{c})
				return nil
			}),
		},
		{
			Name:  "list",
			Usage: "List contacts",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				list, err := d.tracker.List(cCtx.Context)
				if err != nil {
					return err
				}
				printContacts(cCtx.App.Writer, list)
				return nil
			}),
		},
		{
			Name:  "pending",
			Usage: "List contacts selected but not sent to",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				list, err := d.tracker.Pending(cCtx.Context)
				if err != nil {
					return err
				}
				printContacts(cCtx.App.Writer, list)
				return nil
			}),
		},
		{
			Name:      "select",
			Usage:     "Assign a spare key part to a contact",
			ArgsUsage: "<contact-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "method", Value: "qr", Usage: "send method: qr, print or email"},
				&cli.Int64Flag{Name: "key-part", Usage: "key part id, the first spare when unset"},
			},
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				ctx := cCtx.Context
				method, err := interfaces.ParseSendMethod(cCtx.String("method"))
				if err != nil {
					return err
				}
				c, err := d.contactArg(cCtx)
				if err != nil {
					return err
				}

				var kp *interfaces.KeyPart
				if id := cCtx.Int64("key-part"); id > 0 {
					kp, err = d.store.FindKeyPart(ctx, id)
					if err != nil {
						return fmt.Errorf("key part %d: %w", id, err)
					}
				} else {
					spares, err := d.manager.SparesAvailable(ctx)
					if err != nil {
						return err
					}
					if len(spares) == 0 {
						return errors.New("no spare key parts left")
					}
					kp = spares[0]
				}

				if err := d.tracker.Select(ctx, c, kp, method); err != nil {
					return err
				}
				printContacts(cCtx.App.Writer, []*interfaces.Contact{c})
				return nil
			}),
		},
		{
			Name:      "send",
			Usage:     "Deliver the selected key part through its send method",
			ArgsUsage: "<contact-id>",
			Action: contactAction(func(ctx context.Context, d *device, c *interfaces.Contact) error {
				return d.sender.Send(ctx, c)
			}),
		},
		{
			Name:      "sent",
			Usage:     "Record that the key part was handed over outside this tool",
			ArgsUsage: "<contact-id>",
			Action: contactAction(func(ctx context.Context, d *device, c *interfaces.Contact) error {
				return d.tracker.MarkSent(ctx, c)
			}),
		},
		{
			Name:      "confirm",
			Usage:     "Record that the contact received the key part",
			ArgsUsage: "<contact-id>",
			Action: contactAction(func(ctx context.Context, d *device, c *interfaces.Contact) error {
				return d.tracker.Confirm(ctx, c)
			}),
		},
		{
			Name:      "received",
			Usage:     "Record that the key part came back from the contact",
			ArgsUsage: "<contact-id>",
			Action: contactAction(func(ctx context.Context, d *device, c *interfaces.Contact) error {
				return d.tracker.MarkReceived(ctx, c)
			}),
		},
		{
			Name:      "clear",
			Usage:     "Take the key part back from a contact",
			ArgsUsage: "<contact-id>",
			Action: contactAction(func(ctx context.Context, d *device, c *interfaces.Contact) error {
				return d.tracker.Clear(ctx, c)
			}),
		},
		{
			Name:      "remove",
			Usage:     "Clear and delete a contact",
			ArgsUsage: "<contact-id>",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				c, err := d.contactArg(cCtx)
				if err != nil {
					return err
				}
				return d.tracker.Remove(cCtx.Context, c)
			}),
		},
		{
			Name:      "refresh",
			Usage:     "Update contact names and emails from the contact book",
			ArgsUsage: "[contact-id]",
			Action: withDevice(func(cCtx *cli.Context, d *device) error {
				ctx := cCtx.Context
				if d.book == nil {
					return errNoContactBook
				}

				var list []*interfaces.Contact
				if cCtx.NArg() > 0 {
					c, err := d.contactArg(cCtx)
					if err != nil {
						return err
					}
					list = append(list, c)
				} else {
					var err error
					if list, err = d.tracker.List(ctx); err != nil {
						return err
					}
				}

				updated := 0
				for _, c := range list {
					changed, err := d.tracker.Refresh(ctx, d.book, c)
					if err != nil {
						return err
					}
					if changed {
						updated++
					}
				}
				fmt.Fprintf(cCtx.App.Writer, "%d of %d contacts updated\n", updated, len(list))
				return nil
			}),
		},
	},
}
