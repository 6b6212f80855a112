package description

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fooDoc = `<webscript>
  <shortname>Foo</shortname>
  <description> Foo bar </description>
  <url template="/foo/bar"/>
</webscript>`

func TestParse_Example(t *testing.T) {
	d, err := Parse("foo_get_desc.xml", []byte(fooDoc))
	require.NoError(t, err)

	assert.Equal(t, "foo_get", d.ID)
	assert.Equal(t, "GET", d.Method)
	assert.Equal(t, "Foo", d.ShortName)
	assert.Equal(t, "Foo bar", d.Description)
	assert.Equal(t, AuthNone, d.Authentication)
	assert.Equal(t, TxNone, d.Transaction)
	assert.Equal(t, DefaultFormat, d.DefaultFormat)
	assert.Equal(t, []URL{{Template: "/foo/bar", Format: "html"}}, d.URLs)
	assert.Equal(t, "foo_get", d.Base())
}

func TestParse_Defaults(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		auth   Authentication
		tx     Transaction
		format string
	}{
		{
			name:   "user defaults to required transaction",
			doc:    `<webscript><shortname>x</shortname><url template="/x" format="json"/><authentication>user</authentication></webscript>`,
			auth:   AuthUser,
			tx:     TxRequired,
			format: "json",
		},
		{
			name:   "explicit transaction wins",
			doc:    `<webscript><shortname>x</shortname><url template="/x"/><authentication>admin</authentication><transaction>requiresnew</transaction></webscript>`,
			auth:   AuthAdmin,
			tx:     TxRequiresNew,
			format: "html",
		},
		{
			name:   "format element",
			doc:    `<webscript><shortname>x</shortname><url template="/x"/><url template="/x.xml" format="xml"/><format default="json"/></webscript>`,
			auth:   AuthNone,
			tx:     TxNone,
			format: "json",
		},
		{
			name:   "guest",
			doc:    `<webscript><shortname>x</shortname><url template="/x"/><authentication> guest </authentication></webscript>`,
			auth:   AuthGuest,
			tx:     TxRequired,
			format: "html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse("x_post_desc.xml", []byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.auth, d.Authentication)
			assert.Equal(t, tt.tx, d.Transaction)
			assert.Equal(t, tt.format, d.DefaultFormat)
			assert.Equal(t, "POST", d.Method)
		})
	}
}

func TestParse_URLFormats(t *testing.T) {
	d, err := Parse("x_get_desc.xml", []byte(`<webscript><shortname>x</shortname>
		<url template="/x"/><url template="/x.xml" format="xml"/><format default="json"/></webscript>`))
	require.NoError(t, err)

	assert.Equal(t, []string{"json", "xml"}, d.Formats())
	assert.True(t, d.SupportsFormat("xml"))
	assert.False(t, d.SupportsFormat("html"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		doc  string
		msg  string
	}{
		{"missing shortname", "x_get_desc.xml", `<webscript><url template="/x"/></webscript>`, "<shortname> is required"},
		{"blank shortname", "x_get_desc.xml", `<webscript><shortname> </shortname><url template="/x"/></webscript>`, "<shortname> is required"},
		{"missing url", "x_get_desc.xml", `<webscript><shortname>x</shortname></webscript>`, "at least one <url> is required"},
		{"url without template", "x_get_desc.xml", `<webscript><shortname>x</shortname><url format="json"/></webscript>`, "has no template attribute"},
		{"relative template", "x_get_desc.xml", `<webscript><shortname>x</shortname><url template="x"/></webscript>`, "must start with /"},
		{"bad authentication", "x_get_desc.xml", `<webscript><shortname>x</shortname><url template="/x"/><authentication>root</authentication></webscript>`, `unknown authentication "root"`},
		{"bad transaction", "x_get_desc.xml", `<webscript><shortname>x</shortname><url template="/x"/><transaction>maybe</transaction></webscript>`, `unknown transaction "maybe"`},
		{"no method", "x_desc.xml", fooDoc, "does not carry an HTTP method"},
		{"unknown method", "x_fetch_desc.xml", fooDoc, `unknown HTTP method "fetch"`},
		{"wrong suffix", "x_get.xml", fooDoc, "name must end with"},
		{"malformed xml", "x_get_desc.xml", `<webscript><shortname>`, "XML syntax error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.path, []byte(tt.doc))
			var de *DescriptionError
			require.ErrorAs(t, err, &de)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParse_NestedID(t *testing.T) {
	d, err := Parse("/org/example/folders_delete_desc.xml", []byte(fooDoc))
	require.NoError(t, err)
	assert.Equal(t, "org.example.folders_delete", d.ID)
	assert.Equal(t, "DELETE", d.Method)
	assert.Equal(t, "org/example/folders_delete_desc.xml", d.Path)
}

func TestFSStore_Load(t *testing.T) {
	fsys := fstest.MapFS{
		"a/list_get_desc.xml":   {Data: []byte(`<webscript><shortname>List</shortname><url template="/list" format="json"/><url template="/list.html" format="html"/></webscript>`)},
		"a/list_get.json.tmpl":  {Data: []byte(`{}`)},
		"a/list_get.html.tmpl":  {Data: []byte(`<p/>`)},
		"b/other_post_desc.xml": {Data: []byte(fooDoc)},
		"b/readme.txt":          {Data: []byte(`ignored`)},
	}
	s := NewClasspathStore(fsys)

	descs, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)

	list := descs[0]
	assert.Equal(t, "a.list_get", list.ID)
	assert.Equal(t, "classpath", list.Store)
	loc, ok := list.Template("json")
	require.True(t, ok)
	assert.Equal(t, "a/list_get.json.tmpl", loc)
	assert.Len(t, list.Templates(), 2)

	_, ok = descs[1].Template("html")
	assert.False(t, ok)
}

func TestFSStore_ParseErrorFailsLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"good_get_desc.xml": {Data: []byte(fooDoc)},
		"bad_get_desc.xml":  {Data: []byte(`<webscript><url template="/x"/></webscript>`)},
	}
	_, err := NewClasspathStore(fsys).Load(context.Background())
	var de *DescriptionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "bad_get_desc.xml", de.Path)
}

func TestFileStore(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.NotEmpty(t, s.Dir())
	assert.Contains(t, s.Name(), "file:")
	descs, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestRepositoryStore_Load(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()
	layout, err := store.Bootstrap(ctx, "admin")
	require.NoError(t, err)

	sys := security.WithPrincipal(ctx, security.System)
	sub, err := store.CreateNode(sys, layout.WebScripts, repo.TypeFolder, "team", nil)
	require.NoError(t, err)
	doc, err := store.CreateNode(sys, sub, repo.TypeContent, "hello_get_desc.xml", nil)
	require.NoError(t, err)
	require.NoError(t, store.WriteContent(sys, doc, repo.PropContent, "text/xml", "UTF-8", []byte(fooDoc)))
	tmpl, err := store.CreateNode(sys, sub, repo.TypeContent, "hello_get.html.tmpl", nil)
	require.NoError(t, err)
	require.NoError(t, store.WriteContent(sys, tmpl, repo.PropContent, "text/plain", "UTF-8", []byte(`hi`)))

	rs := NewRepositoryStore(store, repo.SpacesStore, "/Company Home/Data Dictionary/Web Scripts/", nil)
	assert.Equal(t, "repository:/Company Home/Data Dictionary/Web Scripts", rs.Name())

	// an anonymous caller still sees the documents
	descs, err := rs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "team.hello_get", descs[0].ID)
	loc, ok := descs[0].Template("html")
	require.True(t, ok)
	assert.Equal(t, tmpl.String(), loc)

	descs, err = NewRepositoryStore(store, repo.SpacesStore, "Company Home/Missing", nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, descs)
}
