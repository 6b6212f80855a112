package registry

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(shortname string, urls ...string) []byte {
	s := "<webscript>"
	if shortname != "" {
		s += "<shortname>" + shortname + "</shortname>"
	}
	for _, u := range urls {
		s += `<url template="` + u + `"/>`
	}
	return []byte(s + "</webscript>")
}

func classpath(files map[string][]byte) *description.FSStore {
	fsys := fstest.MapFS{}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	return description.NewClasspathStore(fsys)
}

type failingStore struct{ err error }

func (s failingStore) Name() string { return "failing" }

func (s failingStore) Load(ctx context.Context) ([]*description.Description, error) {
	return nil, s.err
}

func TestStaticPrefix(t *testing.T) {
	assert.Equal(t, "/foo/bar", StaticPrefix("/foo/bar"))
	assert.Equal(t, "/foo/", StaticPrefix("/foo/{id}"))
	assert.Equal(t, "/search", StaticPrefix("/search?q={term}"))
	assert.Equal(t, "/a/b", StaticPrefix("/a/b?x=1&y={y}"))
}

func TestLookup_Example(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{"foo_get_desc.xml": doc("Foo", "/foo/bar")}))
	require.NoError(t, r.Reset(context.Background()))

	assert.Equal(t, []string{"GET:/foo/bar"}, r.URLKeys())

	m, ok := r.Lookup("GET", "/foo/bar/extra")
	require.True(t, ok)
	assert.Equal(t, "foo_get", m.Description.ID)
	assert.Equal(t, "/extra", m.Extension)
	assert.Equal(t, "/foo/bar", m.Prefix)

	_, ok = r.Lookup("POST", "/foo/bar")
	assert.False(t, ok)
	assert.Equal(t, []string{"GET"}, r.AllowedMethods("/foo/bar"))

	_, ok = r.Lookup("GET", "/nothing")
	assert.False(t, ok)
	assert.Empty(t, r.AllowedMethods("/nothing"))
}

func TestLookup_LongestKeyFirst(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{
		"index_get_desc.xml":        doc("Index", "/index"),
		"index/id_get_desc.xml":     doc("By id", "/index/id/{id}"),
		"index/reset_post_desc.xml": doc("Reset", "/index"),
	}))
	require.NoError(t, r.Reset(context.Background()))

	m, ok := r.Lookup("GET", "/index/id/foo_get")
	require.True(t, ok)
	assert.Equal(t, "index.id_get", m.Description.ID)
	assert.Equal(t, map[string]string{"id": "foo_get"}, m.Args)

	m, ok = r.Lookup("get", "/index")
	require.True(t, ok)
	assert.Equal(t, "index_get", m.Description.ID)
	assert.Empty(t, m.Args)

	m, ok = r.Lookup("POST", "/index")
	require.True(t, ok)
	assert.Equal(t, "index.reset_post", m.Description.ID)
	assert.Equal(t, []string{"GET", "POST"}, r.AllowedMethods("/index"))
}

func TestLookup_TemplateArgs(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{
		"node_get_desc.xml":   doc("Node", "/api/node/{store_type}/{store_id}/{id}"),
		"search_get_desc.xml": doc("Search", "/api/search?q={term}&amp;p={page?}"),
		"path_get_desc.xml":   doc("Path", "/api/path/{id}/{path}"),
	}))
	require.NoError(t, r.Reset(context.Background()))

	m, ok := r.Lookup("GET", "/api/node/workspace/SpacesStore/123")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"store_type": "workspace", "store_id": "SpacesStore", "id": "123"}, m.Args)

	m, ok = r.Lookup("GET", "/api/path/abc/Documents/Reports")
	require.True(t, ok)
	assert.Equal(t, "Documents/Reports", m.Args["path"])

	m, ok = r.Lookup("GET", "/api/search")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"term": "budget"}, m.QueryArgs(url.Values{"q": {"budget"}}))
	assert.Equal(t, map[string]string{"term": "x", "page": "2"}, m.QueryArgs(url.Values{"q": {"x"}, "p": {"2"}}))
}

func TestReset_MissingShortnameKeepsPreviousIndex(t *testing.T) {
	files := map[string][]byte{"good_get_desc.xml": doc("Good", "/good")}
	fsys := fstest.MapFS{"good_get_desc.xml": {Data: files["good_get_desc.xml"]}}
	r := New(nil, description.NewClasspathStore(fsys))
	require.NoError(t, r.Reset(context.Background()))
	loaded := r.LoadedAt()

	fsys["bad_get_desc.xml"] = &fstest.MapFile{Data: doc("", "/bad")}
	err := r.Reset(context.Background())
	var de *description.DescriptionError
	require.ErrorAs(t, err, &de)

	_, ok := r.ByID("bad_get")
	assert.False(t, ok)
	_, ok = r.Lookup("GET", "/bad")
	assert.False(t, ok)
	_, ok = r.Lookup("GET", "/good")
	assert.True(t, ok)
	assert.Equal(t, loaded, r.LoadedAt())

	fsys["bad_get_desc.xml"] = &fstest.MapFile{Data: doc("Bad")}
	err = r.Reset(context.Background())
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "<url>")
	assert.Len(t, r.Scripts(), 1)
}

func TestReset_DuplicateIDFirstStoreWins(t *testing.T) {
	first := classpath(map[string][]byte{"dup_get_desc.xml": doc("First", "/first")})
	second := classpath(map[string][]byte{
		"dup_get_desc.xml":   doc("Second", "/second"),
		"other_get_desc.xml": doc("Other", "/other"),
	})
	r := New(nil, first, second)
	require.NoError(t, r.Reset(context.Background()))

	d, ok := r.ByID("dup_get")
	require.True(t, ok)
	assert.Equal(t, "First", d.ShortName)
	_, ok = r.Lookup("GET", "/second")
	assert.False(t, ok)
	_, ok = r.Lookup("GET", "/other")
	assert.True(t, ok)

	scripts := r.Scripts()
	require.Len(t, scripts, 2)
	assert.Equal(t, "dup_get", scripts[0].ID)
	assert.Equal(t, "other_get", scripts[1].ID)
}

func TestReset_Conflict(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{
		"a_get_desc.xml": doc("A", "/same/{x}"),
		"b_get_desc.xml": doc("B", "/same/{y}"),
	}))
	err := r.Reset(context.Background())
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "GET:/same/", ce.Key)
	assert.Empty(t, r.Scripts())
}

func TestReset_SameScriptReclaimsPrefix(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{
		"a_get_desc.xml": doc("A", "/a", "/a?x={x}"),
	}))
	require.NoError(t, r.Reset(context.Background()))
	assert.Equal(t, []string{"GET:/a"}, r.URLKeys())
}

func TestReset_StoreFailure(t *testing.T) {
	boom := errors.New("boom")
	r := New(nil, classpath(map[string][]byte{"a_get_desc.xml": doc("A", "/a")}), failingStore{err: boom})
	assert.ErrorIs(t, r.Reset(context.Background()), boom)
	assert.Empty(t, r.Scripts())
}

func TestLookup_ConcurrentWithReset(t *testing.T) {
	r := New(nil, classpath(map[string][]byte{
		"a_get_desc.xml": doc("A", "/a"),
		"b_get_desc.xml": doc("B", "/b"),
	}))
	require.NoError(t, r.Reset(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, okA := r.Lookup("GET", "/a")
				_, okB := r.Lookup("GET", "/b")
				assert.True(t, okA && okB)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, r.Reset(context.Background()))
	}
	wg.Wait()
}

func TestWatcher_ResetsOnChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_get_desc.xml"), doc("A", "/a"), 0o644))

	r := New(nil, description.NewFileStore(dir))
	require.NoError(t, r.Reset(context.Background()))

	w, err := Watch(r, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b_get_desc.xml"), doc("B", "/b"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := r.ByID("sub.b_get")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, w.Close())
}

func TestDebouncer_Batches(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][]string
	)
	d := newDebouncer(30*time.Millisecond, func(files []string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, files)
	})
	d.add("a")
	d.add("b")
	d.add("a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b"}, calls[0])
	mu.Unlock()

	d.stop()
	d.add("c")
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Len(t, calls, 1)
	mu.Unlock()
}
