package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NodeNbr identifies a node of the network (the "ipn" node number).
type NodeNbr uint64

var ErrBadEndpoint = errors.New("invalid endpoint identifier")

// NodeEndpoint returns the endpoint identifier of service svc on node n.
func NodeEndpoint(n NodeNbr, svc uint64) string {
	return fmt.Sprintf("ipn:%d.%d", n, svc)
}

// GroupEndpoint returns the multicast endpoint identifier of a group.
func GroupEndpoint(group, svc uint64) string {
	return fmt.Sprintf("imc:%d.%d", group, svc)
}

// ParseNode extracts the node number from an "ipn:<node>.<service>" endpoint.
// Node number zero is never a valid identity.
func ParseNode(eid string) (NodeNbr, error) {
	rest, ok := strings.CutPrefix(eid, "ipn:")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an ipn endpoint", ErrBadEndpoint, eid)
	}

	nodeStr, _, _ := strings.Cut(rest, ".")
	n, err := strconv.ParseUint(nodeStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrBadEndpoint, eid, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %q has node number zero", ErrBadEndpoint, eid)
	}

	return NodeNbr(n), nil
}
