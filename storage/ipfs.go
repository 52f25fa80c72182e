package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/keyshare-backup/interfaces"
)

// IPFSBackend implements a blob store on an IPFS node. Blobs are kept in the
// node's mutable file system under a directory, so a name maps to one CID.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS blob store talking to the node API at host:port.
func NewIPFSBackend(host, port, dir string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	if dir == "" || dir == "/" {
		dir = "/keyshare-backup"
	}
	dir = "/" + strings.Trim(dir, "/")

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		dir:         dir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, dir, timeout),
	}, nil
}

// Put writes data to a new file in the node's file system and returns its CID.
// An existing file is left as it is.
func (b *IPFSBackend) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if !b.shell.IsUp() {
		return "", interfaces.ErrBackendUnavailable
	}
	filePath := path.Join(b.dir, name)

	if stat, err := b.shell.FilesStat(ctx, filePath); err == nil {
		b.log.Debug("Blob already in IPFS, left untouched", slog.String("path", filePath))
		return "ipfs://" + stat.Hash, nil
	} else if !isMissingFile(err) {
		return "", fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	err := b.shell.FilesWrite(ctx, filePath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true))
	if err != nil {
		return "", fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	stat, err := b.shell.FilesStat(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	b.log.Debug("Stored blob in IPFS",
		slog.String("path", filePath),
		slog.String("cid", stat.Hash))

	return "ipfs://" + stat.Hash, nil
}

// Get reads the file stored under name.
func (b *IPFSBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}
	start := time.Now()
	filePath := path.Join(b.dir, name)

	reader, err := b.shell.FilesRead(ctx, filePath)
	if err != nil {
		if isMissingFile(err) {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", filePath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched blob from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func isMissingFile(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
