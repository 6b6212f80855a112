// Package repo defines the service facade through which the template and
// web script layers reach the content repository.
package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StoreSeparator separates the protocol from the identifier in a store or node reference.
const StoreSeparator = "://"

// Common property names
const (
	PropName        = "cm:name"
	PropTitle       = "cm:title"
	PropDescription = "cm:description"
	PropContent     = "cm:content"
	PropCreated     = "cm:created"
	PropCreator     = "cm:creator"
	PropModified    = "cm:modified"
	PropModifier    = "cm:modifier"
)

// Common types, aspects and store protocols
const (
	TypeFolder        = "cm:folder"
	TypeContent       = "cm:content"
	AspectVersionable = "cm:versionable"
	AspectTitled      = "cm:titled"
	ProtocolWorkspace = "workspace"
	ProtocolVersion   = "versionStore"
)

var (
	// ErrNodeNotFound is returned when a node reference does not resolve
	ErrNodeNotFound = errors.New("node not found")
	// ErrContentNotFound is returned when a node carries no content for a property
	ErrContentNotFound = errors.New("content not found")
	// ErrInvalidNodeRef is returned when a string cannot be parsed as a node reference
	ErrInvalidNodeRef = errors.New("invalid node reference")
)

// StoreRef identifies a store within the repository
type StoreRef struct {
	Protocol   string
	Identifier string
}

// SpacesStore is the default workspace store
var SpacesStore = StoreRef{Protocol: ProtocolWorkspace, Identifier: "SpacesStore"}

// String returns the protocol://identifier form
func (s StoreRef) String() string {
	return s.Protocol + StoreSeparator + s.Identifier
}

// ParseStoreRef parses a protocol://identifier string
func ParseStoreRef(s string) (StoreRef, error) {
	idx := strings.Index(s, StoreSeparator)
	if idx <= 0 || idx+len(StoreSeparator) >= len(s) {
		return StoreRef{}, fmt.Errorf("%w: %q", ErrInvalidNodeRef, s)
	}
	return StoreRef{Protocol: s[:idx], Identifier: s[idx+len(StoreSeparator):]}, nil
}

// NodeRef identifies a node within a store
type NodeRef struct {
	Store StoreRef
	ID    string
}

// NewNodeRef creates a node reference from its parts
func NewNodeRef(protocol, identifier, id string) NodeRef {
	return NodeRef{Store: StoreRef{Protocol: protocol, Identifier: identifier}, ID: id}
}

// String returns the protocol://identifier/id form
func (n NodeRef) String() string {
	return n.Store.String() + "/" + n.ID
}

// IsZero reports whether the reference is unset
func (n NodeRef) IsZero() bool {
	return n.ID == "" && n.Store == (StoreRef{})
}

// IsNodeRef reports whether a string looks like a node reference
func IsNodeRef(s string) bool {
	return strings.Contains(s, StoreSeparator)
}

// ParseNodeRef parses a protocol://identifier/id string
func ParseNodeRef(s string) (NodeRef, error) {
	idx := strings.Index(s, StoreSeparator)
	if idx <= 0 {
		return NodeRef{}, fmt.Errorf("%w: %q", ErrInvalidNodeRef, s)
	}
	rest := s[idx+len(StoreSeparator):]
	slash := strings.LastIndex(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		return NodeRef{}, fmt.Errorf("%w: %q", ErrInvalidNodeRef, s)
	}
	return NewNodeRef(s[:idx], rest[:slash], rest[slash+1:]), nil
}

// ContentData describes a binary content property
type ContentData struct {
	URL      string
	Mimetype string
	Encoding string
	Size     int64
	Modified time.Time
}

// ChildAssoc is a parent-child edge
type ChildAssoc struct {
	Parent  NodeRef
	Child   NodeRef
	Name    string
	Primary bool
}

// AssocRef is a peer association between two nodes
type AssocRef struct {
	Source NodeRef
	Target NodeRef
	Type   string
}

// AccessStatus is the outcome of an access control entry
type AccessStatus string

const (
	// Allowed grants the permission
	Allowed AccessStatus = "ALLOWED"
	// Denied refuses the permission
	Denied AccessStatus = "DENIED"
)

// AccessPermission is one access control entry as seen from a node
type AccessPermission struct {
	Authority  string
	Permission string
	Status     AccessStatus
	// Direct is true when the entry is set on the node itself rather than inherited
	Direct bool
}

// Version describes one entry of a node's version history
type Version struct {
	Label       string
	Created     time.Time
	Creator     string
	Description string
	// Frozen references the frozen state of the node in the version store
	Frozen NodeRef
}

// Well-known authorities
const (
	AuthorityEveryone = "GROUP_EVERYONE"
	AuthorityAdmins   = "GROUP_ALFRESCO_ADMINISTRATORS"
	UserGuest         = "guest"
	UserSystem        = "System"
)

// Well-known permissions
const (
	PermissionRead        = "Read"
	PermissionWrite       = "Write"
	PermissionConsumer    = "Consumer"
	PermissionContributor = "Contributor"
	PermissionCoordinator = "Coordinator"
	PermissionAll         = "All"
)
