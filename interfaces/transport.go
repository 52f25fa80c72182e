package interfaces

import "context"

// Delivery is one payload handed to an out-of-band channel.
type Delivery struct {
	// Recipient is the display name the rendered payload is labelled with.
	Recipient string
	Email     string
	Subject   string

	// Payload is the transport text: an encoded key part or base64 ciphertext.
	Payload string
}

// Channel transmits payloads out of band. Channels record intent only, they
// never learn whether the recipient actually got the payload.
type Channel interface {
	Method() SendMethod
	Send(ctx context.Context, d Delivery) error
}

// ContactBook resolves display data for contacts from an address book.
type ContactBook interface {
	// Refresh updates the contact's display name and external id from its lookup
	// key. It reports whether anything changed.
	Refresh(ctx context.Context, c *Contact) (bool, error)
}
