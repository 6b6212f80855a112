// Package builtin provides the web scripts shipped with the server: the
// script index, login, node browsing, keyword search and status templates.
package builtin

import (
	"embed"
	"io/fs"

	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/conduit-lang/webscript/internal/webscript/runtime"
)

//go:embed scripts
var files embed.FS

// Script ids
const (
	IndexID     = "index_get"
	DescribeID  = "index.id_get"
	ResetID     = "index.reset_post"
	LoginID     = "api.login_get"
	LoginPostID = "api.login_post"
	NodeID      = "api.node_get"
	ContentID   = "api.node.content_get"
	PathID      = "api.path_get"
	SearchID    = "api.search.keyword_get"
)

// FS returns the description documents and templates
func FS() fs.FS {
	sub, err := fs.Sub(files, "scripts")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store returns a description store over FS
func Store() *description.FSStore {
	return description.NewClasspathStore(FS())
}

// Register binds the script logic to rt
func Register(rt *runtime.Runtime) {
	rt.Register(IndexID, index)
	rt.Register(DescribeID, describe)
	rt.Register(ResetID, reset)
	rt.Register(LoginID, login)
	rt.Register(LoginPostID, loginJSON)
	rt.Register(NodeID, node)
	rt.Register(ContentID, content)
	rt.Register(PathID, path)
	rt.Register(SearchID, keywordSearch)
}
