package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ruteri/keyshare-backup/cmd/flags"
	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/database"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/ruteri/keyshare-backup/storage"
	"github.com/ruteri/keyshare-backup/transport"
	"github.com/urfave/cli/v2"
)

// device bundles the components wired from the command line flags.
type device struct {
	log     *slog.Logger
	store   interfaces.Store
	manager *container.Manager
	tracker *contacts.Tracker
	flow    *recovery.Flow
	sender  *transport.Sender
	book    interfaces.ContactBook
	email   *transport.EmailChannel
}

func openDevice(cCtx *cli.Context) (*device, error) {
	ctx := cCtx.Context
	logger := flags.SetupLogger(cCtx)

	store, err := database.Open(ctx, cCtx.String(flags.DatabaseFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to open database", "err", err)
		return nil, err
	}

	blobs, err := openBlobStore(cCtx, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	d := &device{
		log:     logger,
		store:   store,
		manager: container.NewManager(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, logger),
		tracker: contacts.NewTracker(store, logger),
		flow:    recovery.NewFlow(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, blobs, logger),
	}

	qr, err := transport.NewQRChannel(cCtx.String(flags.QRDirFlag.Name), os.Stdout, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	printer, err := transport.NewPrintChannel(cCtx.String(flags.PrintDirFlag.Name), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	channels := []interfaces.Channel{qr, printer}
	d.flow.WithChannel(interfaces.StorePrint, printer)

	if host := cCtx.String(flags.SMTPHostFlag.Name); host != "" {
		d.email, err = transport.NewEmailChannel(transport.SMTPConfig{
			Host:     host,
			Port:     cCtx.String(flags.SMTPPortFlag.Name),
			Username: cCtx.String(flags.SMTPUserFlag.Name),
			Password: cCtx.String(flags.SMTPPasswordFlag.Name),
			From:     cCtx.String(flags.SMTPFromFlag.Name),
		}, cCtx.String(flags.AttachmentDirFlag.Name), logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		channels = append(channels, d.email)
		d.flow.WithChannel(interfaces.StoreEmail, d.email)
	}
	d.sender = transport.NewSender(store, d.tracker, logger, channels...)

	if path := cCtx.String(flags.ContactBookFlag.Name); path != "" {
		book, err := transport.NewFileContactBook(path)
		if err != nil {
			store.Close()
			return nil, err
		}
		d.book = book
	}

	return d, nil
}

func openBlobStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.BlobStore, error) {
	uris := cCtx.StringSlice(flags.CloudFlag.Name)
	if len(uris) == 0 {
		return nil, nil
	}

	locations := make([]interfaces.BlobStoreLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewBlobStoreLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return storage.NewBlobStoreFactory(logger).CreateMultiBackend(locations)
}

func (d *device) Close() error {
	return d.store.Close()
}

// withDevice opens the device for the duration of action.
func withDevice(action func(cCtx *cli.Context, d *device) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		d, err := openDevice(cCtx)
		if err != nil {
			return err
		}
		defer d.Close()
		return action(cCtx, d)
	}
}

// activeContainer loads the active container or fails with ErrNoContainer.
func (d *device) activeContainer(ctx context.Context) (*interfaces.Container, error) {
	c, err := d.manager.Active(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, interfaces.ErrNoContainer
	}
	return c, nil
}

func (d *device) contactArg(cCtx *cli.Context) (*interfaces.Contact, error) {
	id, err := idArg(cCtx, "contact")
	if err != nil {
		return nil, err
	}
	c, err := d.store.FindContact(cCtx.Context, id)
	if err != nil {
		return nil, fmt.Errorf("contact %d: %w", id, err)
	}
	return c, nil
}

func (d *device) backupArg(cCtx *cli.Context) (*interfaces.Backup, error) {
	id, err := idArg(cCtx, "backup")
	if err != nil {
		return nil, err
	}
	b, err := d.store.FindBackup(cCtx.Context, id)
	if err != nil {
		return nil, fmt.Errorf("backup %d: %w", id, err)
	}
	return b, nil
}

func idArg(cCtx *cli.Context, what string) (int64, error) {
	if cCtx.NArg() < 1 {
		return 0, fmt.Errorf("missing %s id", what)
	}
	id, err := strconv.ParseInt(cCtx.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, cCtx.Args().First())
	}
	return id, nil
}
