package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/keyshare-backup/common"
	"github.com/ruteri/keyshare-backup/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.Config {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.Config{
		ListenAddr:    listenAddr,
		MetricsAddr:   metricsAddr,
		Log:           logger,
		EnablePprof:   enablePprof,
		DrainDuration: drainDuration,
	}
}

var DatabaseFlag = &cli.StringFlag{
	Name:    "db",
	Value:   "keyshare.db",
	EnvVars: []string{"KEYSHARE_DB"},
	Usage:   "database DSN: a SQLite path, sqlite://path, postgres://... or 'memory'",
}

var CloudFlag = &cli.StringSliceFlag{
	Name:    "cloud",
	EnvVars: []string{"KEYSHARE_CLOUD"},
	Usage:   "backup storage location URI (file://, s3://, ipfs://, vault://), may be repeated",
}

var SMTPHostFlag = &cli.StringFlag{
	Name:    "smtp-host",
	EnvVars: []string{"KEYSHARE_SMTP_HOST"},
	Usage:   "SMTP server for the email channel, email is disabled when empty",
}
var SMTPPortFlag = &cli.StringFlag{
	Name:    "smtp-port",
	Value:   "587",
	EnvVars: []string{"KEYSHARE_SMTP_PORT"},
	Usage:   "SMTP server port",
}
var SMTPUserFlag = &cli.StringFlag{
	Name:    "smtp-user",
	EnvVars: []string{"KEYSHARE_SMTP_USER"},
	Usage:   "SMTP username, no authentication when empty",
}
var SMTPPasswordFlag = &cli.StringFlag{
	Name:    "smtp-password",
	EnvVars: []string{"KEYSHARE_SMTP_PASSWORD"},
	Usage:   "SMTP password",
}
var SMTPFromFlag = &cli.StringFlag{
	Name:    "smtp-from",
	EnvVars: []string{"KEYSHARE_SMTP_FROM"},
	Usage:   "sender address of emailed key parts and backups",
}

var QRDirFlag = &cli.StringFlag{
	Name:    "qr-dir",
	Value:   "qr",
	EnvVars: []string{"KEYSHARE_QR_DIR"},
	Usage:   "directory rendered QR codes are written to",
}
var PrintDirFlag = &cli.StringFlag{
	Name:    "print-dir",
	Value:   "print",
	EnvVars: []string{"KEYSHARE_PRINT_DIR"},
	Usage:   "directory printable sheets are written to",
}
var AttachmentDirFlag = &cli.StringFlag{
	Name:    "attachment-dir",
	Value:   "attachments",
	EnvVars: []string{"KEYSHARE_ATTACHMENT_DIR"},
	Usage:   "directory email attachments are staged in",
}
var ContactBookFlag = &cli.StringFlag{
	Name:    "contact-book",
	EnvVars: []string{"KEYSHARE_CONTACT_BOOK"},
	Usage:   "JSON address book used to refresh contact names",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"KEYSHARE_LISTEN_ADDR"},
	Usage:   "address to listen on for the device API",
}

var ServerURLFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"KEYSHARE_SERVER"},
	Usage:   "base URL of a running device API",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlagFn(common.PackageName),
}

var DeviceFlags = []cli.Flag{
	DatabaseFlag,
	CloudFlag,
	SMTPHostFlag,
	SMTPPortFlag,
	SMTPUserFlag,
	SMTPPasswordFlag,
	SMTPFromFlag,
	QRDirFlag,
	PrintDirFlag,
	AttachmentDirFlag,
	ContactBookFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
