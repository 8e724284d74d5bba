package streak

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// IdentitySize is the width of an owner identity in bytes.
const IdentitySize = 32

// Identity is the fixed-width binary identity of a record owner
// (a wallet public key). Its text form is base58.
type Identity [IdentitySize]byte

// ParseIdentity decodes a base58 owner identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if s == "" {
		return id, fmt.Errorf("owner identity is required")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("decode owner identity: %w", err)
	}
	return IdentityFromBytes(raw)
}

// IdentityFromBytes copies a raw 32-byte identity.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, fmt.Errorf("owner identity must be %d bytes, got %d", IdentitySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58 form of the identity.
func (id Identity) String() string { return base58.Encode(id[:]) }

// IsZero reports whether the identity is all zero bytes.
func (id Identity) IsZero() bool { return id == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Namespace is the tag mixed into every derived address. Two namespaces produce
// disjoint address spaces, so changing the tag orphans every record created
// under the old one unless they are copied across explicitly.
type Namespace string

// DefaultNamespace is the namespace tag used by the current deployment.
const DefaultNamespace Namespace = "streak_2025"

// MaxNamespaceLen bounds the namespace tag length.
const MaxNamespaceLen = 32

// Validate checks that the namespace is usable for address derivation.
func (ns Namespace) Validate() error {
	if ns == "" {
		return fmt.Errorf("namespace tag is required")
	}
	if len(ns) > MaxNamespaceLen {
		return fmt.Errorf("namespace tag %q exceeds %d bytes", string(ns), MaxNamespaceLen)
	}
	return nil
}

// Address is the deterministic storage slot of an owner's record.
type Address [32]byte

// addressDomain separates streak addresses from any other SHA-256 use of the
// same inputs.
const addressDomain = "civic-streak/record-address"

// DeriveAddress computes the storage address of owner's record under ns.
// The result depends only on its inputs.
func DeriveAddress(ns Namespace, owner Identity) Address {
	h := sha256.New()
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(ns)))
	h.Write(n[:])
	h.Write([]byte(ns))
	h.Write(owner[:])
	h.Write([]byte(addressDomain))

	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := base58.Decode(s)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// String returns the base58 form of the address.
func (a Address) String() string { return base58.Encode(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
