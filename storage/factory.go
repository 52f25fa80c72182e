package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// BlobStoreFactory creates blob stores from location URIs and manages
// multi-backend configurations for redundant storage.
type BlobStoreFactory struct {
	log *slog.Logger
}

// NewBlobStoreFactory creates a new factory instance.
func NewBlobStoreFactory(logger *slog.Logger) *BlobStoreFactory {
	return &BlobStoreFactory{log: logger}
}

// BlobStoreFor creates a blob store from a location.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node mutable file system
//   - vault:// - HashiCorp Vault KV v2
func (sf *BlobStoreFactory) BlobStoreFor(location interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "ipfs":
		return sf.createIPFSBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "file":
		return sf.createFileBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Locations that fail to produce a backend are logged and skipped.
// Returns an error if no valid backends could be created.
func (sf *BlobStoreFactory) CreateMultiBackend(locations []interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	backends := make([]interfaces.BlobStore, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.BlobStoreFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("location", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createIPFSBackend creates an IPFS blob store.
// URI format: ipfs://host:port/dir?timeout=30s
func (sf *BlobStoreFactory) createIPFSBackend(loc interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("uri", loc.String()))

	host, port := splitHostPort(loc.Host, "5001")

	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSBackend(host, port, loc.Path, timeout, sf.log)
}

// createS3Backend creates an S3 or S3-compatible blob store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *BlobStoreFactory) createS3Backend(loc interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey, secretKey, _ := strings.Cut(loc.Auth, ":")

	return NewS3Backend(loc.Host, loc.Path, region, loc.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createFileBackend creates a file system blob store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *BlobStoreFactory) createFileBackend(loc interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", loc.String()))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	return NewFileBackend(path, sf.log)
}

// createVaultBackend creates a Vault blob store.
// URI format: vault://[TOKEN@]host:port/mount/path?insecure=true&cert=client.pem&key=client.key
// Without a token in the URI, VAULT_TOKEN is used.
func (sf *BlobStoreFactory) createVaultBackend(loc interfaces.BlobStoreLocation) (interfaces.BlobStore, error) {
	sf.log.Debug("Creating Vault backend", slog.String("host", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing host in vault URI", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if loc.GetParamBool("insecure") {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, loc.Host)

	mountPath, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")
	if mountPath == "" {
		mountPath = "secret"
	}

	token, _, _ := strings.Cut(loc.Auth, ":")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	var clientCert *tls.Certificate
	if certFile := loc.GetParam("cert"); certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, loc.GetParam("key"))
		if err != nil {
			return nil, fmt.Errorf("failed to load Vault client certificate: %w", err)
		}
		clientCert = &cert
	}

	return NewVaultBackend(address, mountPath, dataPath, token, clientCert, sf.log)
}

func splitHostPort(hostport, defaultPort string) (string, string) {
	host, port, found := strings.Cut(hostport, ":")
	if !found || port == "" {
		port = defaultPort
	}
	return host, port
}
