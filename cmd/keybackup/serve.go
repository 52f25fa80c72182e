package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/keyshare-backup/cmd/flags"
	"github.com/ruteri/keyshare-backup/httpserver"
	"github.com/ruteri/keyshare-backup/provenance"
	"github.com/ruteri/keyshare-backup/scanner"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the device status, scan and restore API over HTTP",
	Flags: flags.ServerFlags,
	Action: withDevice(func(cCtx *cli.Context, d *device) error {
		cfg := flags.ConfigureServer(cCtx, d.log, cCtx.String(flags.ListenAddrFlag.Name))

		ingester := scanner.NewIngester(d.store, d.tracker, provenance.Mode{Foreign: true}, d.log)
		handler := httpserver.NewHandler(d.store, d.manager, d.tracker, d.flow, ingester, d.log)
		restore := httpserver.NewRestoreHandler(d.store, d.flow, d.log)

		server, err := httpserver.New(cfg, handler, restore)
		if err != nil {
			d.log.Error("Failed to create server", "err", err)
			return err
		}

		d.log.Info("Starting server", "listenAddr", cfg.ListenAddr, "metricsAddr", cfg.MetricsAddr)
		server.RunInBackground()

		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

		d.log.Info("Server is running, press Ctrl+C to stop")
		<-exit
		d.log.Info("Shutdown signal received")

		server.Shutdown()
		d.log.Info("Server shutdown complete")
		return nil
	}),
}
