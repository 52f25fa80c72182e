package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// KeyPartFilter narrows ListKeyParts.
type KeyPartFilter struct {
	// Foreign selects only foreign (true) or only own (false) shares when set.
	Foreign *bool

	// ContainerID restricts own shares to one container when non-zero.
	ContainerID int64

	// Unassigned selects shares no contact references.
	Unassigned bool
}

// OwnKeyParts selects self-shares of a container.
func OwnKeyParts(containerID int64) KeyPartFilter {
	f := false
	return KeyPartFilter{Foreign: &f, ContainerID: containerID}
}

// ForeignKeyParts selects shares received from other people.
func ForeignKeyParts() KeyPartFilter {
	f := true
	return KeyPartFilter{Foreign: &f}
}

// ContactFilter narrows ListContacts.
type ContactFilter struct {
	ContainerID int64
	Status      *SendStatus
}

// WithStatus selects contacts of a container in the given send status.
func WithStatus(containerID int64, s SendStatus) ContactFilter {
	return ContactFilter{ContainerID: containerID, Status: &s}
}

// BackupFilter narrows ListBackups.
type BackupFilter struct {
	// WithCiphertext selects backups whose ciphertext is stored locally.
	WithCiphertext bool
}

// Store is the relational persistence layer.
//
// Own key parts are listed in creation order, foreign key parts ordered by owner,
// backups oldest first.
type Store interface {
	UpsertContainer(ctx context.Context, c *Container) error
	// FindContainer returns ErrNotFound when no container with the id exists.
	FindContainer(ctx context.Context, id int64) (*Container, error)

	// InsertKeyParts assigns ids to the key parts in place.
	InsertKeyParts(ctx context.Context, kps []*KeyPart) error
	FindKeyPart(ctx context.Context, id int64) (*KeyPart, error)
	// FindKeyPartByContent looks up a key part with identical key bytes, timestamp and origin.
	FindKeyPartByContent(ctx context.Context, key []byte, timestamp int64, foreign bool) (*KeyPart, error)
	DeleteKeyPart(ctx context.Context, id int64) error
	ListKeyParts(ctx context.Context, filter KeyPartFilter) ([]*KeyPart, error)

	UpsertContact(ctx context.Context, c *Contact) error
	DeleteContact(ctx context.Context, id int64) error
	FindContact(ctx context.Context, id int64) (*Contact, error)
	FindContactByKeyPart(ctx context.Context, keyPartID int64) (*Contact, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]*Contact, error)

	InsertBackup(ctx context.Context, b *Backup) error
	UpdateBackup(ctx context.Context, b *Backup) error
	FindBackup(ctx context.Context, id int64) (*Backup, error)
	ListBackups(ctx context.Context, filter BackupFilter) ([]*Backup, error)

	Preferences(ctx context.Context) (Preferences, error)
	SavePreferences(ctx context.Context, p Preferences) error

	// Atomic runs fn against a transactional view of the store. Nothing fn wrote
	// is visible if it returns an error.
	Atomic(ctx context.Context, fn func(Store) error) error

	Close() error
}

// BlobStoreLocation represents URI for a blob store.
type BlobStoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewBlobStoreLocation creates a new storage location from a URI string with validation.
func NewBlobStoreLocation(uri string) (BlobStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BlobStoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return BlobStoreLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BlobStoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc BlobStoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BlobStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BlobStoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// BlobStore is write-once named storage for encrypted backups.
type BlobStore interface {
	// Put stores data under name and returns a locator for it. Stored data is
	// never overwritten: writing a name that already exists is a silent no-op
	// returning the locator of the data already there.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get returns ErrContentNotFound when nothing is stored under name.
	Get(ctx context.Context, name string) ([]byte, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// BlobStoreFactory creates blob stores.
type BlobStoreFactory interface {
	// BlobStoreFor creates a backend from URI. Supports file://, s3://, ipfs://, vault://
	BlobStoreFor(location BlobStoreLocation) (BlobStore, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []BlobStoreLocation) (BlobStore, error)
}
