package p2p

import "errors"

var (
	// ErrInvalidSubnet indicates a subnet string that does not parse as an
	// IPv4/IPv6 address with an optional prefix length in range.
	ErrInvalidSubnet = errors.New("p2p: invalid subnet")
	// ErrInvalidAddress indicates a malformed bare address where one is required.
	ErrInvalidAddress = errors.New("p2p: invalid address")
	// ErrBanned is returned when connection admission is refused by the ban list.
	ErrBanned = errors.New("p2p: address is banned")
	// ErrDiscouraged is returned when admission is refused because the address
	// sits in the in-memory discouraged set.
	ErrDiscouraged = errors.New("p2p: address is discouraged")
	// ErrConnNotFound is returned when a disconnect target has no live connection.
	ErrConnNotFound = errors.New("p2p: connection not found")
	// ErrBanStoreCorrupt indicates the persisted ban list could not be decoded.
	ErrBanStoreCorrupt = errors.New("p2p: corrupt ban store")
)

// IsBanStoreCorrupt reports whether the error originated from an unreadable ban file.
func IsBanStoreCorrupt(err error) bool {
	return errors.Is(err, ErrBanStoreCorrupt)
}
