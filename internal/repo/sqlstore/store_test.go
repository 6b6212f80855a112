package sqlstore

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *Layout) {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	layout, err := s.Bootstrap(ctx, "admin")
	require.NoError(t, err)
	return s, layout
}

func asUser(name string) context.Context {
	return security.WithPrincipal(context.Background(), security.Principal{Username: name})
}

func TestBootstrap_Idempotent(t *testing.T) {
	s, layout := setupStore(t)

	again, err := s.Bootstrap(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, layout, again)

	resolved, err := s.Layout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, layout, resolved)

	path, err := s.GetPath(context.Background(), layout.WebScripts)
	require.NoError(t, err)
	assert.Equal(t, "/Company Home/Data Dictionary/Web Scripts", path)
}

func TestStore_PropertiesRoundTrip(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.System)

	target, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "target.txt", nil)
	require.NoError(t, err)

	ref, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "doc.txt", map[string]any{
		repo.PropTitle: "A document",
		"cm:count":     int64(3),
		"cm:ratio":     0.5,
		"cm:flag":      true,
		"cm:related":   target,
		"cm:tags":      []string{"a", "b"},
	})
	require.NoError(t, err)

	props, err := s.GetProperties(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", props[repo.PropName])
	assert.Equal(t, "A document", props[repo.PropTitle])
	assert.Equal(t, int64(3), props["cm:count"])
	assert.Equal(t, 0.5, props["cm:ratio"])
	assert.Equal(t, true, props["cm:flag"])
	assert.Equal(t, target, props["cm:related"])
	assert.Equal(t, []any{"a", "b"}, props["cm:tags"])
	assert.Equal(t, "System", props[repo.PropCreator])
}

func TestStore_MissingNode(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	missing := repo.NodeRef{Store: repo.SpacesStore, ID: "nope"}

	exists, err := s.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.GetProperties(ctx, missing)
	assert.ErrorIs(t, err, repo.ErrNodeNotFound)
}

func TestStore_ContentRoundTrip(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.System)

	ref, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "hello.txt", nil)
	require.NoError(t, err)
	require.NoError(t, s.WriteContent(ctx, ref, repo.PropContent, "text/plain", "", []byte("hello world")))

	reader, err := s.GetReader(ctx, ref, repo.PropContent)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", reader.Data().Mimetype)
	assert.Equal(t, "UTF-8", reader.Data().Encoding)
	assert.Equal(t, int64(11), reader.Data().Size)
	assert.False(t, reader.LastModified().IsZero())

	rc, err := reader.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))

	props, err := s.GetProperties(ctx, ref)
	require.NoError(t, err)
	cd, ok := props[repo.PropContent].(repo.ContentData)
	require.True(t, ok)
	assert.Equal(t, int64(11), cd.Size)

	_, err = s.GetReader(ctx, layout.CompanyHome, repo.PropContent)
	assert.ErrorIs(t, err, repo.ErrContentNotFound)
}

func TestStore_ChildAssocsHonorPermissions(t *testing.T) {
	s, layout := setupStore(t)
	sys := security.WithPrincipal(context.Background(), security.System)

	public, err := s.CreateNode(sys, layout.CompanyHome, repo.TypeFolder, "Public", nil)
	require.NoError(t, err)
	private, err := s.CreateNode(sys, layout.CompanyHome, repo.TypeFolder, "Private", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetInheritParentPermissions(sys, private, false))
	require.NoError(t, s.SetPermission(sys, private, "alice", repo.PermissionCoordinator, true))

	children, err := s.GetChildAssocs(asUser("bob"), layout.CompanyHome)
	require.NoError(t, err)
	var names []string
	for _, c := range children {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "Public")
	assert.NotContains(t, names, "Private")

	children, err = s.GetChildAssocs(asUser("alice"), layout.CompanyHome)
	require.NoError(t, err)
	names = names[:0]
	for _, c := range children {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "Private")

	ok, err := s.HasPermission(asUser("bob"), public, repo.PermissionRead)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasPermission(asUser("bob"), public, repo.PermissionWrite)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetAllSetPermissions_Order(t *testing.T) {
	s, layout := setupStore(t)
	sys := security.WithPrincipal(context.Background(), security.System)

	folder, err := s.CreateNode(sys, layout.CompanyHome, repo.TypeFolder, "Docs", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetPermission(sys, folder, "bob", repo.PermissionWrite, false))
	require.NoError(t, s.SetPermission(sys, folder, "alice", repo.PermissionContributor, true))

	perms, err := s.GetAllSetPermissions(sys, folder)
	require.NoError(t, err)
	require.Len(t, perms, 3)
	assert.Equal(t, repo.AccessPermission{Authority: "bob", Permission: "Write", Status: repo.Denied, Direct: true}, perms[0])
	assert.Equal(t, repo.AccessPermission{Authority: "alice", Permission: "Contributor", Status: repo.Allowed, Direct: true}, perms[1])
	assert.Equal(t, repo.AccessPermission{Authority: repo.AuthorityEveryone, Permission: "Consumer", Status: repo.Allowed, Direct: false}, perms[2])
}

func TestStore_PathQuery(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.System)

	rs, err := s.Query(ctx, repo.Query{
		Language:  repo.LanguagePath,
		Root:      layout.CompanyHome,
		Statement: "$p0/$p1",
		Params:    map[string]string{"p0": DataDictionaryName, "p1": WebScriptsName},
	})
	require.NoError(t, err)
	defer rs.Close()
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, layout.WebScripts, rs.NodeRef(0))

	rs, err = s.Query(ctx, repo.Query{Language: repo.LanguagePath, Root: layout.CompanyHome, Statement: "Nope"})
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	rs.Close()

	_, err = s.Query(ctx, repo.Query{Language: repo.LanguagePath, Root: layout.CompanyHome, Statement: "$missing"})
	var qe *repo.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "$missing", qe.Query)
}

func TestStore_FullTextQuery(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.System)

	doc, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "report.txt", map[string]any{repo.PropTitle: "Quarterly numbers"})
	require.NoError(t, err)
	require.NoError(t, s.WriteContent(ctx, doc, repo.PropContent, "text/plain", "", []byte("revenue grew strongly")))
	_, err = s.CreateNode(ctx, layout.CompanyHome, repo.TypeFolder, "Reports", nil)
	require.NoError(t, err)
	for _, name := range []string{"a_b.txt", "axb.txt", "50%.txt", "500.txt"} {
		_, err = s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, name, nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		statement string
		want      int
	}{
		{"name match", "report", 2},
		{"type filter", `report TYPE:"cm:content"`, 1},
		{"content text", "revenue", 1},
		{"title property", `@cm\:title:"quarterly"`, 1},
		{"no match", "zebra", 0},
		{"literal underscore", "a_b", 1},
		{"literal percent", "50%", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := s.Query(ctx, repo.Query{Language: repo.LanguageFTS, Store: repo.SpacesStore, Statement: tt.statement})
			require.NoError(t, err)
			defer rs.Close()
			assert.Equal(t, tt.want, rs.Len())
		})
	}
}

func TestStore_QueryErrorCarriesStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, DriverSQLite, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT DISTINCT n.id").WillReturnError(errors.New("disk I/O error"))

	_, err = s.Query(context.Background(), repo.Query{Language: repo.LanguageFTS, Statement: "budget"})
	var qe *repo.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "budget", qe.Query)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RebindForPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, DriverPostgres, nil)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT root_id FROM ws_stores WHERE store = $1")).
		WithArgs("workspace://SpacesStore").
		WillReturnRows(sqlmock.NewRows([]string{"root_id"}).AddRow("root-1"))

	root, err := s.GetRootNode(context.Background(), repo.SpacesStore)
	require.NoError(t, err)
	assert.Equal(t, "root-1", root.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(nil, "oracle", nil)
	assert.Error(t, err)
}

func TestStore_Versions(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.Principal{Username: "alice", Admin: true})

	ref, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "v.txt", map[string]any{repo.PropTitle: "one"})
	require.NoError(t, err)

	v1, err := s.CreateVersion(ctx, ref, "first")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v1.Label)

	require.NoError(t, s.SetProperties(ctx, ref, map[string]any{repo.PropTitle: "two"}))
	v2, err := s.CreateVersion(ctx, ref, "second")
	require.NoError(t, err)
	assert.Equal(t, "1.1", v2.Label)

	history, err := s.GetVersionHistory(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "1.1", history[0].Label)
	assert.Equal(t, "alice", history[0].Creator)

	frozen, err := s.GetProperties(ctx, history[1].Frozen)
	require.NoError(t, err)
	assert.Equal(t, "one", frozen[repo.PropTitle])

	aspects, err := s.GetAspects(ctx, ref)
	require.NoError(t, err)
	assert.Contains(t, aspects, repo.AspectVersionable)
}

func TestStore_Authentication(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "bob", "pw", false))
	assert.NoError(t, s.Authenticate(ctx, "bob", "pw"))
	assert.ErrorIs(t, s.Authenticate(ctx, "bob", "bad"), ErrAuthentication)
	assert.ErrorIs(t, s.Authenticate(ctx, "nobody", "pw"), ErrAuthentication)

	admin, err := s.IsAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin)
	admin, err = s.IsAdmin(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, admin)

	auths, err := s.GetAuthorities(ctx, "admin")
	require.NoError(t, err)
	assert.Contains(t, auths, repo.AuthorityAdmins)
	assert.True(t, s.IsGuest("guest"))
}

func TestStore_AssocsAndDelete(t *testing.T) {
	s, layout := setupStore(t)
	ctx := security.WithPrincipal(context.Background(), security.System)

	a, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "a", nil)
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, layout.CompanyHome, repo.TypeContent, "b", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateAssoc(ctx, a, b, "cm:references"))

	targets, err := s.GetTargetAssocs(ctx, a)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, b, targets[0].Target)

	sources, err := s.GetSourceAssocs(ctx, b)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, a, sources[0].Source)

	require.NoError(t, s.DeleteNode(ctx, b))
	exists, err := s.Exists(ctx, b)
	require.NoError(t, err)
	assert.False(t, exists)
	targets, err = s.GetTargetAssocs(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, targets)
}
