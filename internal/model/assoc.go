package model

import "github.com/conduit-lang/webscript/internal/repo"

// Assoc wraps a peer association
type Assoc struct {
	Type   string
	Source *Node
	Target *Node
}

func newAssoc(env *Env, a repo.AssocRef) *Assoc {
	return &Assoc{
		Type:   a.Type,
		Source: newNode(env, a.Source),
		Target: newNode(env, a.Target),
	}
}

// ChildAssoc wraps a parent-child edge
type ChildAssoc struct {
	Name    string
	Primary bool
	Parent  *Node
	Child   *Node
}

func newChildAssoc(env *Env, a repo.ChildAssoc) *ChildAssoc {
	return &ChildAssoc{
		Name:    a.Name,
		Primary: a.Primary,
		Parent:  newNode(env, a.Parent),
		Child:   newNode(env, a.Child),
	}
}
