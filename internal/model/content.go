package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
)

const (
	inlinePrefix  = "/d/d"
	attachPrefix  = "/d/a"
	servicePrefix = "/api/node/content"
)

func contentPath(prefix string, ref repo.NodeRef, name string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range []string{ref.Store.Protocol, ref.Store.Identifier, ref.ID, name} {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

// ContentURL is the inline browser URL for a node's content
func ContentURL(ref repo.NodeRef, name string) string {
	return contentPath(inlinePrefix, ref, name)
}

// DownloadURL is the attachment URL for a node's content
func DownloadURL(ref repo.NodeRef, name string) string {
	return contentPath(attachPrefix, ref, name)
}

// ServiceURL is the web script URL streaming a node's content. context is
// the path the web script runtime is mounted under, e.g. /service.
func ServiceURL(context string, ref repo.NodeRef, name string) string {
	return contentPath(strings.TrimSuffix(context, "/")+servicePrefix, ref, name)
}

// Content wraps one content property of a node
type Content struct {
	env      *Env
	ref      repo.NodeRef
	name     string
	property string
	data     repo.ContentData
	text     *Lazy[string]
}

func newContent(env *Env, ref repo.NodeRef, name, property string, data repo.ContentData) *Content {
	c := &Content{env: env, ref: ref, name: name, property: property, data: data}
	c.text = NewLazy(func() string { return readAll(env, ref, property) })
	return c
}

// Property returns the qualified name of the wrapped property
func (c *Content) Property() string { return c.property }

// Content returns the content as text
func (c *Content) Content() string { return c.text.Get() }

// Size returns the content size in bytes
func (c *Content) Size() int64 { return c.data.Size }

// Mimetype returns the content mimetype
func (c *Content) Mimetype() string { return c.data.Mimetype }

// Encoding returns the content encoding
func (c *Content) Encoding() string { return c.data.Encoding }

// Modified returns the last modification time of the content
func (c *Content) Modified() time.Time { return c.data.Modified }

// URL returns the inline content URL
func (c *Content) URL() string { return ContentURL(c.ref, c.name) }

// DownloadURL returns the attachment content URL
func (c *Content) DownloadURL() string { return DownloadURL(c.ref, c.name) }

// ServiceURL returns the content service URL
func (c *Content) ServiceURL() string { return ServiceURL(c.env.serviceContext, c.ref, c.name) }

// String returns the content text so templates can print the value directly
func (c *Content) String() string { return c.Content() }
