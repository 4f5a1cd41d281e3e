package crypto

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var ErrUnknownKey = errors.New("unknown key reference")

var rawKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Keyring resolves opaque key references to signers. It backs demo-mode
// signing, where the engine signs on a party's behalf.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]*Signer

	// AllowRawKeys lets a reference that is itself a hex private key be
	// used directly.
	AllowRawKeys bool
}

func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[string]*Signer)}
}

// Add registers a hex private key under ref.
func (k *Keyring) Add(ref, hexKey string) error {
	s, err := FromPrivateKeyHex(hexKey)
	if err != nil {
		return fmt.Errorf("key %q: %w", ref, err)
	}
	k.mu.Lock()
	k.signers[ref] = s
	k.mu.Unlock()
	return nil
}

func (k *Keyring) Signer(ref string) (*Signer, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrUnknownKey)
	}
	k.mu.RLock()
	s, ok := k.signers[ref]
	k.mu.RUnlock()
	if ok {
		return s, nil
	}
	if rawKeyPattern.MatchString(ref) {
		if k.AllowRawKeys {
			return FromPrivateKeyHex(ref)
		}
		return nil, fmt.Errorf("%w: raw keys not allowed", ErrUnknownKey)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, ref)
}

func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.signers)
}
