package repo

import (
	"context"
	"io"
	"time"
)

// NodeService reads the node graph
type NodeService interface {
	Exists(ctx context.Context, ref NodeRef) (bool, error)
	GetRootNode(ctx context.Context, store StoreRef) (NodeRef, error)
	GetType(ctx context.Context, ref NodeRef) (string, error)
	GetAspects(ctx context.Context, ref NodeRef) ([]string, error)
	GetProperties(ctx context.Context, ref NodeRef) (map[string]any, error)
	GetPrimaryParent(ctx context.Context, ref NodeRef) (ChildAssoc, error)
	// GetChildAssocs returns the child edges visible to the caller
	GetChildAssocs(ctx context.Context, ref NodeRef) ([]ChildAssoc, error)
	GetChildByName(ctx context.Context, parent NodeRef, name string) (NodeRef, error)
	GetTargetAssocs(ctx context.Context, ref NodeRef) ([]AssocRef, error)
	GetSourceAssocs(ctx context.Context, ref NodeRef) ([]AssocRef, error)
	// GetPath returns the display path of a node, e.g. /Company Home/Documents
	GetPath(ctx context.Context, ref NodeRef) (string, error)
}

// ContentReader gives access to one content property
type ContentReader interface {
	Data() ContentData
	LastModified() time.Time
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ContentService reads node content
type ContentService interface {
	GetReader(ctx context.Context, ref NodeRef, property string) (ContentReader, error)
}

// Query languages understood by the search service
const (
	// LanguagePath resolves a slash separated chain of name steps below Query.Root.
	// Each step is either a literal name or a $param reference.
	LanguagePath = "path"
	// LanguageFTS is a full-text query: bare terms, TYPE:x, ASPECT:x and @prop:value tokens
	LanguageFTS = "fts"
)

// Query is a search request
type Query struct {
	Language  string
	Store     StoreRef
	Root      NodeRef
	Statement string
	Params    map[string]string
	Limit     int
}

// ResultSet is a scoped search result. Callers must Close it.
type ResultSet interface {
	Len() int
	NodeRef(i int) NodeRef
	NodeRefs() []NodeRef
	Close() error
}

// SearchService executes queries
type SearchService interface {
	Query(ctx context.Context, q Query) (ResultSet, error)
}

// PermissionService evaluates access control
type PermissionService interface {
	GetAllSetPermissions(ctx context.Context, ref NodeRef) ([]AccessPermission, error)
	GetInheritParentPermissions(ctx context.Context, ref NodeRef) (bool, error)
	HasPermission(ctx context.Context, ref NodeRef, permission string) (bool, error)
}

// VersionService reads version histories
type VersionService interface {
	GetVersionHistory(ctx context.Context, ref NodeRef) ([]Version, error)
}

// AuthenticationService verifies credentials
type AuthenticationService interface {
	Authenticate(ctx context.Context, username, password string) error
	UserExists(ctx context.Context, username string) (bool, error)
}

// AuthorityService answers authority questions
type AuthorityService interface {
	IsAdmin(ctx context.Context, username string) (bool, error)
	IsGuest(username string) bool
	GetAuthorities(ctx context.Context, username string) ([]string, error)
}

// ServiceRegistry bundles every repository subsystem
type ServiceRegistry interface {
	Nodes() NodeService
	Content() ContentService
	Search() SearchService
	Permissions() PermissionService
	Versions() VersionService
	Authentication() AuthenticationService
	Authorities() AuthorityService
}
