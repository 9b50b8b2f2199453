package domain

import "strings"

// ContractKind is the closed set of contracts whose transactions this
// mirror indexes. Classification matches a transaction's recipient address
// against the configured address for each kind.
type ContractKind int

const (
	ContractUserFactory ContractKind = iota
	ContractTrackFactory
	ContractSocialFeatureFactory
	ContractPlaylistFactory
	ContractUserLibraryFactory
	ContractUserReplicaSetManager
)

// ApplyOrder is the order appliers run within a block.
var ApplyOrder = []ContractKind{
	ContractUserFactory,
	ContractTrackFactory,
	ContractSocialFeatureFactory,
	ContractUserReplicaSetManager,
	ContractPlaylistFactory,
	ContractUserLibraryFactory,
}

func (c ContractKind) String() string {
	switch c {
	case ContractUserFactory:
		return "user_factory"
	case ContractTrackFactory:
		return "track_factory"
	case ContractSocialFeatureFactory:
		return "social_feature_factory"
	case ContractPlaylistFactory:
		return "playlist_factory"
	case ContractUserLibraryFactory:
		return "user_library_factory"
	case ContractUserReplicaSetManager:
		return "user_replica_set_manager"
	}
	return "unknown"
}

// AddressBook maps recipient addresses to contract kinds. It is resolved
// once per cycle from configuration; lookups are case-insensitive.
type AddressBook struct {
	byAddress map[string]ContractKind
}

// NewAddressBook builds an address book from kind -> address.
func NewAddressBook(addresses map[ContractKind]string) *AddressBook {
	book := &AddressBook{byAddress: make(map[string]ContractKind, len(addresses))}
	for kind, addr := range addresses {
		if addr == "" {
			continue
		}
		book.byAddress[strings.ToLower(addr)] = kind
	}
	return book
}

// Lookup resolves an address to its contract kind.
func (b *AddressBook) Lookup(address string) (ContractKind, bool) {
	kind, ok := b.byAddress[strings.ToLower(address)]
	return kind, ok
}

// Size returns the number of registered addresses.
func (b *AddressBook) Size() int { return len(b.byAddress) }
