package recovery

import (
	"sort"
	"sync"

	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/interfaces"
)

// Collector accumulates accepted shares until enough are present to restore a
// backup. Shares are keyed by their index, so submitting the same share twice
// does not count twice.
//
// The threshold may be unknown up front, e.g. when restoring on a new device.
// It is then learned from the threshold the shares carry.
type Collector struct {
	mu        sync.Mutex
	threshold int
	shares    map[byte]*interfaces.KeyPart
}

// NewCollector creates a collector. A threshold of 0 means unknown.
func NewCollector(threshold int) *Collector {
	return &Collector{
		threshold: threshold,
		shares:    make(map[byte]*interfaces.KeyPart),
	}
}

// Add submits a share. It reports false when a share with the same index was
// already collected.
func (c *Collector) Add(kp *interfaces.KeyPart) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(kp.Key) < 2 {
		return false
	}
	idx := cryptoutils.ShareIndex(kp.Key)
	if _, ok := c.shares[idx]; ok {
		return false
	}

	c.shares[idx] = kp.Clone()
	if kp.Threshold > c.threshold {
		c.threshold = kp.Threshold
	}
	return true
}

// Threshold returns the known threshold, 0 if unknown.
func (c *Collector) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// Count returns the number of distinct shares collected.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shares)
}

// Needed returns how many more shares are required, or -1 when the threshold is unknown.
func (c *Collector) Needed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.threshold == 0 {
		return -1
	}
	if n := c.threshold - len(c.shares); n > 0 {
		return n
	}
	return 0
}

// Ready reports whether the known threshold is reached.
func (c *Collector) Ready() bool {
	return c.Needed() == 0
}

// Shares returns the collected shares ordered by index.
func (c *Collector) Shares() []*interfaces.KeyPart {
	c.mu.Lock()
	defer c.mu.Unlock()

	indexes := make([]int, 0, len(c.shares))
	for idx := range c.shares {
		indexes = append(indexes, int(idx))
	}
	sort.Ints(indexes)

	result := make([]*interfaces.KeyPart, 0, len(indexes))
	for _, idx := range indexes {
		result = append(result, c.shares[byte(idx)].Clone())
	}
	return result
}

// Restore decrypts ciphertext with the collected shares. With an unknown
// threshold every collected share is used and a wrong guess surfaces as a
// decryption failure. The collected shares are wiped after a successful restore.
func (c *Collector) Restore(f *Flow, ciphertext string) ([]byte, error) {
	shares := c.Shares()

	threshold := c.Threshold()
	if threshold == 0 {
		threshold = len(shares)
		if threshold == 0 {
			threshold = 1
		}
	}

	plaintext, err := f.Restore(threshold, shares, ciphertext)
	for _, kp := range shares {
		interfaces.Wipe(kp.Key)
	}
	if err != nil {
		return nil, err
	}

	c.Reset()
	return plaintext, nil
}

// Reset wipes and drops all collected shares.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx, kp := range c.shares {
		interfaces.Wipe(kp.Key)
		delete(c.shares, idx)
	}
}
