package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/conduit-lang/webscript/internal/templating"
	"github.com/conduit-lang/webscript/internal/transaction"
	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/conduit-lang/webscript/internal/webscript/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(shortname, auth, tx string, urls ...string) []byte {
	var b strings.Builder
	b.WriteString("<webscript><shortname>" + shortname + "</shortname>")
	for _, u := range urls {
		b.WriteString(u)
	}
	if auth != "" {
		b.WriteString("<authentication>" + auth + "</authentication>")
	}
	if tx != "" {
		b.WriteString("<transaction>" + tx + "</transaction>")
	}
	b.WriteString("</webscript>")
	return []byte(b.String())
}

func scripts() fstest.MapFS {
	return fstest.MapFS{
		"test/hello_get_desc.xml": {Data: doc("Hello", "", "",
			`<url template="/hello/{name}"/>`,
			`<url template="/hello/{name}.json" format="json"/>`)},
		"test/hello_get.html.tmpl": {Data: []byte(`Hello {{.args.name}} from {{.url.Service}} ({{.format}})`)},
		"test/hello_get.json.tmpl": {Data: []byte(`{"name":{{json .args.name}}}`)},

		"test/secure_get_desc.xml":  {Data: doc("Secure", "user", "", `<url template="/secure"/>`)},
		"test/secure_get.html.tmpl": {Data: []byte(`{{.person.userName}}|{{.companyhome.Name}}`)},

		"test/guest_get_desc.xml":  {Data: doc("Guest", "guest", "", `<url template="/guest"/>`)},
		"test/guest_get.html.tmpl": {Data: []byte(`{{.person.userName}}`)},

		"test/admin_post_desc.xml":  {Data: doc("Admin", "admin", "", `<url template="/admin"/>`)},
		"test/admin_post.html.tmpl": {Data: []byte(`ok`)},

		"test/create_post_desc.xml":  {Data: doc("Create", "user", "required", `<url template="/create/{name}"/>`)},
		"test/create_post.html.tmpl": {Data: []byte(`created {{.created}}`)},

		"test/boom_get_desc.xml":   {Data: doc("Boom", "", "", `<url template="/boom"/>`)},
		"test/fail_get_desc.xml":   {Data: doc("Fail", "", "", `<url template="/fail"/>`)},
		"test/stream_get_desc.xml": {Data: doc("Stream", "", "", `<url template="/stream" format="csv"/>`)},
		"test/bare_get_desc.xml":   {Data: doc("Bare", "", "", `<url template="/bare"/>`)},

		"404.tmpl":         {Data: []byte(`missing {{.url.Service}}`)},
		"status.tmpl":      {Data: []byte(`{{.status.code}}:{{.status.message}}`)},
		"status.json.tmpl": {Data: []byte(`{"code":{{.status.code}}}`)},
	}
}

type fixture struct {
	rt     *Runtime
	store  *sqlstore.Store
	layout *sqlstore.Layout
	authn  *auth.Authenticator
}

func setup(t *testing.T, classpath fs.FS) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	layout, err := store.Bootstrap(ctx, "admin")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, "bob", "secret", false))

	reg := registry.New(nil, description.NewClasspathStore(classpath))
	require.NoError(t, reg.Reset(ctx))

	loader := templating.NewLoader(classpath, store, nil, nil)
	templates, err := templating.NewService(templating.DefaultConfig(), loader, store, nil)
	require.NoError(t, err)

	authn := auth.NewAuthenticator(auth.NewTicketService("test-secret", time.Hour), store, store)
	rt := New(DefaultConfig(), reg, templates, store, authn, WithTransactor(store.Transactions()))
	return &fixture{rt: rt, store: store, layout: layout, authn: authn}
}

func (f *fixture) do(t *testing.T, method, target string, prepare ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for _, p := range prepare {
		p(req)
	}
	w := httptest.NewRecorder()
	f.rt.ServeHTTP(w, req)
	return w
}

func basic(user, password string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

func TestRuntime_RendersTemplate(t *testing.T) {
	f := setup(t, scripts())

	w := f.do(t, http.MethodGet, "/hello/bob")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello bob from /hello/bob (html)", w.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestRuntime_FormatSelection(t *testing.T) {
	f := setup(t, scripts())

	tests := []struct {
		name   string
		target string
		code   int
		body   string
		ctype  string
	}{
		{name: "extension", target: "/hello/bob.json", code: http.StatusOK, body: `{"name":"bob"}`, ctype: "application/json; charset=utf-8"},
		{name: "query arg", target: "/hello/bob?format=json", code: http.StatusOK, body: `{"name":"bob"}`, ctype: "application/json; charset=utf-8"},
		{name: "callback", target: "/hello/bob.json?callback=cb", code: http.StatusOK, body: `cb({"name":"bob"})`, ctype: "text/javascript; charset=utf-8"},
		{name: "both", target: "/hello/bob.json?format=html", code: http.StatusBadRequest},
		{name: "undeclared", target: "/hello/bob?format=xml", code: http.StatusBadRequest},
		{name: "bad callback", target: "/hello/bob.json?callback=" + url.QueryEscape("alert(1)"), code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.target)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
			if tt.ctype != "" {
				assert.Equal(t, tt.ctype, w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRuntime_NotFoundAndMethodNotAllowed(t *testing.T) {
	f := setup(t, scripts())

	w := f.do(t, http.MethodGet, "/nothing/here")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "missing /nothing/here", w.Body.String())
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))

	w = f.do(t, http.MethodDelete, "/hello/bob")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, []string{"GET"}, w.Header().Values("Allow"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "405:"))
}

func TestRuntime_Authentication(t *testing.T) {
	f := setup(t, scripts())

	w := f.do(t, http.MethodGet, "/secure")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w = f.do(t, http.MethodGet, "/secure", basic("admin", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/secure", basic("admin", "admin"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "admin|Company Home", w.Body.String())

	ticket, _, err := f.authn.Tickets().Issue(security.Principal{Username: "bob"})
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/secure?ticket="+ticket)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob|Company Home", w.Body.String())

	w = f.do(t, http.MethodGet, "/secure", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ticket)
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRuntime_GuestAndAdmin(t *testing.T) {
	f := setup(t, scripts())

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/guest").Code)

	w := f.do(t, http.MethodGet, "/guest?guest=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guest", w.Body.String())

	w = f.do(t, http.MethodGet, "/guest", basic("bob", "secret"))
	assert.Equal(t, "bob", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/admin", basic("bob", "secret")).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/admin", basic("admin", "admin")).Code)
}

func TestRuntime_CallerContextUntouched(t *testing.T) {
	f := setup(t, scripts())

	var seen string
	f.rt.Register("test.guest_get", func(ctx context.Context, s *Script) error {
		seen = security.CurrentUser(ctx)
		return nil
	})

	caller := security.WithPrincipal(context.Background(), security.Principal{Username: "outer"})
	req := httptest.NewRequest(http.MethodGet, "/guest", nil).WithContext(caller)
	req.SetBasicAuth("bob", "secret")
	f.rt.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "bob", seen)
	assert.Equal(t, "outer", security.CurrentUser(req.Context()))
}

func TestRuntime_TransactionRollsBackOnFailure(t *testing.T) {
	f := setup(t, scripts())

	f.rt.Register("test.create_post", func(ctx context.Context, s *Script) error {
		_, err := f.store.CreateNode(ctx, f.layout.CompanyHome, repo.TypeContent, s.Arg("name"), nil)
		if err != nil {
			return err
		}
		if s.Arg("fail") == "true" {
			return Status(http.StatusConflict, "rejected %s", s.Arg("name"))
		}
		s.Model["created"] = s.Arg("name")
		return nil
	})

	w := f.do(t, http.MethodPost, "/create/kept.txt", basic("admin", "admin"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "created kept.txt", w.Body.String())

	w = f.do(t, http.MethodPost, "/create/dropped.txt?fail=true", basic("admin", "admin"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "409:rejected dropped.txt", w.Body.String())

	ctx := security.WithPrincipal(context.Background(), security.System)
	_, err := f.store.GetChildByName(ctx, f.layout.CompanyHome, "kept.txt")
	assert.NoError(t, err)
	_, err = f.store.GetChildByName(ctx, f.layout.CompanyHome, "dropped.txt")
	assert.True(t, errors.Is(err, repo.ErrNodeNotFound))
}

type countingTransactor struct {
	calls atomic.Int32
	inner Transactor
}

func (c *countingTransactor) Do(ctx context.Context, p transaction.Propagation, fn func(ctx context.Context) error) error {
	c.calls.Add(1)
	return c.inner.Do(ctx, p, fn)
}

func TestRuntime_TransactionOnlyWhenDeclared(t *testing.T) {
	f := setup(t, scripts())
	tx := &countingTransactor{inner: f.store.Transactions()}
	f.rt.tx = tx

	f.do(t, http.MethodGet, "/hello/bob")
	assert.Equal(t, int32(0), tx.calls.Load())

	f.do(t, http.MethodGet, "/secure", basic("admin", "admin"))
	assert.Equal(t, int32(1), tx.calls.Load())
}

func TestRuntime_PanicBecomesStatus(t *testing.T) {
	f := setup(t, scripts())
	f.rt.Register("test.boom_get", func(ctx context.Context, s *Script) error {
		panic("boom")
	})

	w := f.do(t, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "500:web script failed", w.Body.String())
}

func TestRuntime_StatusTemplateByFormat(t *testing.T) {
	f := setup(t, scripts())
	f.rt.Register("test.hello_get", func(ctx context.Context, s *Script) error {
		return Status(http.StatusTeapot, "short and stout")
	})

	w := f.do(t, http.MethodGet, "/hello/bob.json")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, `{"code":418}`, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	w = f.do(t, http.MethodGet, "/hello/bob")
	assert.Equal(t, "418:short and stout", w.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestRuntime_FormatlessStatusTemplateIsHTML(t *testing.T) {
	f := setup(t, scripts())
	f.rt.Register("test.stream_get", func(ctx context.Context, s *Script) error {
		return Status(http.StatusConflict, "export busy")
	})

	w := f.do(t, http.MethodGet, "/stream")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "409:export busy", w.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestRuntime_ScriptErrorsClassified(t *testing.T) {
	f := setup(t, scripts())
	f.rt.Register("test.fail_get", func(ctx context.Context, s *Script) error {
		switch s.Arg("kind") {
		case "missing":
			return fmt.Errorf("lookup: %w", repo.ErrNodeNotFound)
		case "empty":
			return fmt.Errorf("read: %w", repo.ErrContentNotFound)
		default:
			return errors.New("plain failure")
		}
	})

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/fail?kind=missing").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/fail?kind=empty").Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, "/fail").Code)
}

func TestRuntime_MissingTemplate(t *testing.T) {
	f := setup(t, scripts())

	w := f.do(t, http.MethodGet, "/bare")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "500:")
}

func TestRuntime_Stream(t *testing.T) {
	f := setup(t, scripts())
	f.rt.Register("test.stream_get", func(ctx context.Context, s *Script) error {
		s.Headers.Set("X-Rows", "2")
		s.Stream = func(w io.Writer) error {
			_, err := io.WriteString(w, "a,b\n1,2\n")
			return err
		}
		return nil
	})

	w := f.do(t, http.MethodGet, "/stream")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b\n1,2\n", w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "2", w.Header().Get("X-Rows"))
}

func TestRuntime_PlainTextFallback(t *testing.T) {
	classpath := scripts()
	delete(classpath, "404.tmpl")
	delete(classpath, "status.tmpl")
	delete(classpath, "status.json.tmpl")
	f := setup(t, classpath)

	w := f.do(t, http.MethodGet, "/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "404 Not Found\n"))
}

func TestRuntime_BrokenStatusTemplateFallsThrough(t *testing.T) {
	classpath := scripts()
	classpath["404.tmpl"] = &fstest.MapFile{Data: []byte(`{{.status.code`)}
	f := setup(t, classpath)

	w := f.do(t, http.MethodGet, "/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "404:no web script matches GET /nothing", w.Body.String())
}
