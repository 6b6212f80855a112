package model

import (
	"errors"
	"io"
	"path"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
	"go.uber.org/zap"
)

// ContentProvider is implemented by wrappers exposing a content property
type ContentProvider interface {
	ContentData() *Content
	Content() string
	Size() int64
	Mimetype() string
	URL() string
	DownloadURL() string
}

// PermissionProvider is implemented by wrappers exposing access control
type PermissionProvider interface {
	Permissions() []string
	FullPermissions() []string
	HasPermission(permission string) bool
	InheritsPermissions() bool
}

// HierarchyProvider is implemented by wrappers exposing the node graph
type HierarchyProvider interface {
	Parent() *Node
	Children() []*Node
	ChildAssocs() []*ChildAssoc
	Assocs() map[string][]*Node
	SourceAssocs() map[string][]*Node
}

var (
	_ ContentProvider    = (*Node)(nil)
	_ PermissionProvider = (*Node)(nil)
	_ HierarchyProvider  = (*Node)(nil)
)

type typeResult struct {
	typ string
	err error
}

// Node is the template view of a repository node
type Node struct {
	env *Env
	ref repo.NodeRef

	typ          *Lazy[typeResult]
	properties   *Lazy[map[string]any]
	aspects      *Lazy[[]string]
	parent       *Lazy[*Node]
	childAssocs  *Lazy[[]*ChildAssoc]
	targetAssocs *Lazy[[]*Assoc]
	sourceAssocs *Lazy[[]*Assoc]
	permissions  *Lazy[[]repo.AccessPermission]
	versions     *Lazy[[]*Version]
	content      *Lazy[string]
}

func newNode(env *Env, ref repo.NodeRef) *Node {
	n := &Node{env: env, ref: ref}
	n.typ = NewLazy(n.fetchType)
	n.properties = NewLazy(n.fetchProperties)
	n.aspects = NewLazy(n.fetchAspects)
	n.parent = NewLazy(n.fetchParent)
	n.childAssocs = NewLazy(n.fetchChildAssocs)
	n.targetAssocs = NewLazy(func() []*Assoc { return n.fetchAssocs(true) })
	n.sourceAssocs = NewLazy(func() []*Assoc { return n.fetchAssocs(false) })
	n.permissions = NewLazy(n.fetchPermissions)
	n.versions = NewLazy(n.fetchVersions)
	n.content = NewLazy(n.fetchContent)
	return n
}

func (n *Node) log() *zap.Logger {
	return n.env.logger.With(zap.String("node", n.ref.String()))
}

// NodeRef returns the wrapped reference
func (n *Node) NodeRef() repo.NodeRef { return n.ref }

// ID returns the node id within its store
func (n *Node) ID() string { return n.ref.ID }

// StoreType returns the store protocol
func (n *Node) StoreType() string { return n.ref.Store.Protocol }

// StoreID returns the store identifier
func (n *Node) StoreID() string { return n.ref.Store.Identifier }

// String returns the reference string
func (n *Node) String() string { return n.ref.String() }

func (n *Node) fetchType() typeResult {
	typ, err := n.env.services.Nodes().GetType(n.env.ctx, n.ref)
	return typeResult{typ: typ, err: err}
}

// Type returns the node type. Fails for a node that no longer exists.
func (n *Node) Type() (string, error) {
	r := n.typ.Get()
	return r.typ, r.err
}

func (n *Node) fetchProperties() map[string]any {
	raw, err := n.env.services.Nodes().GetProperties(n.env.ctx, n.ref)
	if err != nil {
		n.log().Debug("properties unavailable", zap.Error(err))
		return map[string]any{}
	}
	name, _ := raw[repo.PropName].(string)
	props := make(map[string]any, len(raw))
	for k, v := range raw {
		props[k] = n.convertProperty(k, name, v)
	}
	return props
}

func (n *Node) convertProperty(prop, name string, v any) any {
	switch x := v.(type) {
	case repo.NodeRef:
		return newNode(n.env, x)
	case repo.ContentData:
		return newContent(n.env, n.ref, name, prop, x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = n.convertProperty(prop, name, x[i])
		}
		return out
	default:
		return v
	}
}

// Properties returns the converted property map. The map is fetched once and
// the same instance is returned on every call.
func (n *Node) Properties() map[string]any {
	return n.properties.Get()
}

// Property returns a single converted property, or nil
func (n *Node) Property(name string) any {
	return n.Properties()[name]
}

// Name returns cm:name
func (n *Node) Name() string {
	s, _ := n.Properties()[repo.PropName].(string)
	return s
}

// Title returns cm:title, falling back to the name
func (n *Node) Title() string {
	if s, ok := n.Properties()[repo.PropTitle].(string); ok && s != "" {
		return s
	}
	return n.Name()
}

func (n *Node) fetchAspects() []string {
	aspects, err := n.env.services.Nodes().GetAspects(n.env.ctx, n.ref)
	if err != nil {
		n.log().Debug("aspects unavailable", zap.Error(err))
		return []string{}
	}
	return aspects
}

// Aspects returns the applied aspects
func (n *Node) Aspects() []string {
	return n.aspects.Get()
}

// HasAspect reports whether an aspect is applied
func (n *Node) HasAspect(aspect string) bool {
	for _, a := range n.Aspects() {
		if a == aspect {
			return true
		}
	}
	return false
}

// IsContainer reports whether the node is a folder
func (n *Node) IsContainer() bool {
	typ, err := n.Type()
	return err == nil && typ == repo.TypeFolder
}

// IsDocument reports whether the node is a content document
func (n *Node) IsDocument() bool {
	typ, err := n.Type()
	return err == nil && typ == repo.TypeContent
}

// IsVersioned reports whether the node carries the versionable aspect
func (n *Node) IsVersioned() bool {
	return n.HasAspect(repo.AspectVersionable)
}

// Exists reports whether the wrapped reference still resolves
func (n *Node) Exists() bool {
	ok, err := n.env.services.Nodes().Exists(n.env.ctx, n.ref)
	return err == nil && ok
}

func (n *Node) fetchParent() *Node {
	assoc, err := n.env.services.Nodes().GetPrimaryParent(n.env.ctx, n.ref)
	if err != nil || assoc.Parent.IsZero() {
		return nil
	}
	return newNode(n.env, assoc.Parent)
}

// Parent returns the primary parent, or nil for a root or missing node
func (n *Node) Parent() *Node {
	return n.parent.Get()
}

// DisplayPath returns the display path of the node. Fails for a missing node.
func (n *Node) DisplayPath() (string, error) {
	return n.env.services.Nodes().GetPath(n.env.ctx, n.ref)
}

func (n *Node) fetchChildAssocs() []*ChildAssoc {
	assocs, err := n.env.services.Nodes().GetChildAssocs(n.env.ctx, n.ref)
	if err != nil {
		n.log().Debug("children unavailable", zap.Error(err))
		return []*ChildAssoc{}
	}
	out := make([]*ChildAssoc, len(assocs))
	for i, a := range assocs {
		out[i] = newChildAssoc(n.env, a)
	}
	return out
}

// ChildAssocs returns the child association wrappers
func (n *Node) ChildAssocs() []*ChildAssoc {
	return n.childAssocs.Get()
}

// Children returns the visible child nodes
func (n *Node) Children() []*Node {
	assocs := n.ChildAssocs()
	out := make([]*Node, len(assocs))
	for i, a := range assocs {
		out[i] = a.Child
	}
	return out
}

func (n *Node) fetchAssocs(targets bool) []*Assoc {
	var (
		assocs []repo.AssocRef
		err    error
	)
	if targets {
		assocs, err = n.env.services.Nodes().GetTargetAssocs(n.env.ctx, n.ref)
	} else {
		assocs, err = n.env.services.Nodes().GetSourceAssocs(n.env.ctx, n.ref)
	}
	if err != nil {
		n.log().Debug("associations unavailable", zap.Error(err))
		return []*Assoc{}
	}
	out := make([]*Assoc, len(assocs))
	for i, a := range assocs {
		out[i] = newAssoc(n.env, a)
	}
	return out
}

// AssocList returns the peer associations where this node is the source
func (n *Node) AssocList() []*Assoc {
	return n.targetAssocs.Get()
}

// Assocs returns target nodes grouped by association type
func (n *Node) Assocs() map[string][]*Node {
	out := make(map[string][]*Node)
	for _, a := range n.targetAssocs.Get() {
		out[a.Type] = append(out[a.Type], a.Target)
	}
	return out
}

// SourceAssocs returns source nodes grouped by association type
func (n *Node) SourceAssocs() map[string][]*Node {
	out := make(map[string][]*Node)
	for _, a := range n.sourceAssocs.Get() {
		out[a.Type] = append(out[a.Type], a.Source)
	}
	return out
}

// ContentData returns the cm:content wrapper, or nil when the node has none
func (n *Node) ContentData() *Content {
	c, _ := n.Properties()[repo.PropContent].(*Content)
	return c
}

func (n *Node) fetchContent() string {
	c := n.ContentData()
	if c == nil {
		return ""
	}
	return c.Content()
}

// Content returns the text of cm:content, or "" when there is none
func (n *Node) Content() string {
	return n.content.Get()
}

// Size returns the content size in bytes
func (n *Node) Size() int64 {
	if c := n.ContentData(); c != nil {
		return c.Size()
	}
	return 0
}

// Mimetype returns the content mimetype
func (n *Node) Mimetype() string {
	if c := n.ContentData(); c != nil {
		return c.Mimetype()
	}
	return ""
}

// URL returns the inline content URL of the node
func (n *Node) URL() string {
	return ContentURL(n.ref, n.Name())
}

// DownloadURL returns the attachment content URL of the node
func (n *Node) DownloadURL() string {
	return DownloadURL(n.ref, n.Name())
}

// ServiceURL returns the content service URL of the node
func (n *Node) ServiceURL() string {
	return ServiceURL(n.env.serviceContext, n.ref, n.Name())
}

// Icon16 returns the small icon path
func (n *Node) Icon16() string { return n.iconFor(Icon16) }

// Icon32 returns the medium icon path
func (n *Node) Icon32() string { return n.iconFor(Icon32) }

// Icon64 returns the large icon path
func (n *Node) Icon64() string { return n.iconFor(Icon64) }

func (n *Node) iconFor(size IconSize) string {
	if n.IsContainer() {
		return n.env.icon("space", size)
	}
	return n.env.icon(n.Name(), size)
}

func (n *Node) fetchPermissions() []repo.AccessPermission {
	perms, err := n.env.services.Permissions().GetAllSetPermissions(n.env.ctx, n.ref)
	if err != nil {
		n.log().Debug("permissions unavailable", zap.Error(err))
		return []repo.AccessPermission{}
	}
	return perms
}

// Permissions returns the set permissions as STATUS;AUTHORITY;PERMISSION
func (n *Node) Permissions() []string {
	return FormatPermissions(n.permissions.Get(), false)
}

// FullPermissions returns the set permissions suffixed with ;DIRECT or ;INHERITED
func (n *Node) FullPermissions() []string {
	return FormatPermissions(n.permissions.Get(), true)
}

// HasPermission reports whether the caller holds a permission on the node
func (n *Node) HasPermission(permission string) bool {
	ok, err := n.env.services.Permissions().HasPermission(n.env.ctx, n.ref, permission)
	return err == nil && ok
}

// InheritsPermissions reports whether the node inherits its parent's ACL
func (n *Node) InheritsPermissions() bool {
	ok, err := n.env.services.Permissions().GetInheritParentPermissions(n.env.ctx, n.ref)
	return err == nil && ok
}

func (n *Node) fetchVersions() []*Version {
	history, err := n.env.services.Versions().GetVersionHistory(n.env.ctx, n.ref)
	if err != nil {
		n.log().Debug("version history unavailable", zap.Error(err))
		return []*Version{}
	}
	out := make([]*Version, len(history))
	for i, v := range history {
		out[i] = newVersion(n.env, n, v)
	}
	return out
}

// Versions returns the version history, newest first
func (n *Node) Versions() []*Version {
	return n.versions.Get()
}

// ChildByNamePath returns a map resolving slash separated name paths below this node
func (n *Node) ChildByNamePath() *PathResultMap {
	return &PathResultMap{parent: n}
}

// Search returns a map executing full-text queries in this node's store
func (n *Node) Search() *SearchResultMap {
	return &SearchResultMap{parent: n}
}

// Extension returns the lower-case file extension of the node name
func (n *Node) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(n.Name())), ".")
}

// readAll reads a content property fully, returning "" on any failure
func readAll(env *Env, ref repo.NodeRef, prop string) string {
	reader, err := env.services.Content().GetReader(env.ctx, ref, prop)
	if err != nil {
		if !errors.Is(err, repo.ErrContentNotFound) {
			env.logger.Debug("content unavailable", zap.String("node", ref.String()), zap.Error(err))
		}
		return ""
	}
	rc, err := reader.Open(env.ctx)
	if err != nil {
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(data)
}
