package model

import (
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
)

// Version wraps one entry of a node's version history
type Version struct {
	Label       string
	Created     time.Time
	Creator     string
	Description string

	env    *Env
	node   *Node
	frozen repo.NodeRef
}

func newVersion(env *Env, node *Node, v repo.Version) *Version {
	return &Version{
		Label:       v.Label,
		Created:     v.Created,
		Creator:     v.Creator,
		Description: v.Description,
		env:         env,
		node:        node,
		frozen:      v.Frozen,
	}
}

// Node returns the frozen state of the versioned node
func (v *Version) Node() *Node {
	return newNode(v.env, v.frozen)
}

// URL returns the inline content URL of the frozen state
func (v *Version) URL() string {
	return ContentURL(v.frozen, v.node.Name())
}
