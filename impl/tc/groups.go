package tc

import "github.com/usernamenenad/trusted-collective/core"

// Service numbers of the three multicast groups of a collective.
const (
	RecordsService   = 1
	BulletinsService = 2
	BlocksService    = 3
)

// Groups names the transport groups a collective talks on: records flow
// from clients to authorities, proposals between authorities and blocks
// from authorities to clients.
type Groups struct {
	Records   string `cbor:"records" yaml:"records" validate:"required"`
	Bulletins string `cbor:"bulletins" yaml:"bulletins" validate:"required"`
	Blocks    string `cbor:"blocks" yaml:"blocks" validate:"required"`
}

// DefaultGroups returns the groups of the collective with the given
// multicast group number.
func DefaultGroups(collective uint64) Groups {
	return Groups{
		Records:   core.GroupEndpoint(collective, RecordsService),
		Bulletins: core.GroupEndpoint(collective, BulletinsService),
		Blocks:    core.GroupEndpoint(collective, BlocksService),
	}
}
