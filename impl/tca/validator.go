package tca

import (
	"errors"
	"fmt"
	"slices"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
)

var (
	ErrUnauthorized = errors.New("submitter not authorized")
	ErrUnknownPeer  = errors.New("unknown authority")
	ErrOutOfService = errors.New("authority not in service")
)

// Validator holds the policy checks of the collective.
type Validator struct {
	Params *Params
}

func NewValidator(params *Params) *Validator {
	return &Validator{
		Params: params,
	}
}

// AuthorizeSubmitter accepts a record submitted under the submitter's own
// identity, or by a node on the client whitelist when one is configured.
func (v *Validator) AuthorizeSubmitter(source string, rec *tc.Record) error {
	node, err := core.ParseNode(source)
	if err != nil {
		return err
	}
	if uint64(node) == rec.NodeNbr {
		return nil
	}
	if len(v.Params.Clients) > 0 && slices.Contains(v.Params.Clients, node) {
		return nil
	}
	return fmt.Errorf("%w: node %d submitted a record for node %d", ErrUnauthorized, node, rec.NodeNbr)
}

// Proposer resolves the roster index of an in-service authority from the
// source endpoint of its message.
func (v *Validator) Proposer(source string) (int, error) {
	node, err := core.ParseNode(source)
	if err != nil {
		return -1, err
	}
	idx, ok := v.Params.Index(node)
	if !ok {
		return -1, fmt.Errorf("%w: node %d", ErrUnknownPeer, node)
	}
	if !v.Params.Authorities[idx].InService {
		return -1, fmt.Errorf("%w: node %d", ErrOutOfService, node)
	}
	return idx, nil
}

// Unanimous reports whether every in-service authority agreed.
func (v *Validator) Unanimous(acks []Ack) bool {
	for i, m := range v.Params.Authorities {
		if !m.InService {
			continue
		}
		if i >= len(acks) || acks[i] != AckAgree {
			return false
		}
	}
	return true
}
