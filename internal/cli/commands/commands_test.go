package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`database:
  driver: sqlite3
  dsn: file:%s?_foreign_keys=on
  max_open_conns: 1
  admin_password: admin-secret
auth:
  ticket_secret: %s
logging:
  level: error
`, filepath.Join(dir, "ws.db"), testSecret)
	path := filepath.Join(dir, "webscript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", cfgPath, "--no-color"}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "webscript", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"version", "serve", "scripts", "render", "repo", "user", "token"} {
		assert.Contains(t, names, expected)
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	t.Cleanup(func() { Version = "dev" })

	out, _, err := run(t, writeConfig(t), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "webscript version: 1.0.0-test")
	assert.Contains(t, out, "Go version: go")
}

func TestRepoInitUserAndToken(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, cfg, "repo", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Repository initialized")
	assert.Contains(t, out, "Company Home:")
	assert.Contains(t, out, "workspace://SpacesStore/")

	out, _, err = run(t, cfg, "user", "add", "bob", "--password", "bob-pw")
	require.NoError(t, err)
	assert.Contains(t, out, "User bob saved")

	out, _, err = run(t, cfg, "token", "bob", "-p", "bob-pw", "-q")
	require.NoError(t, err)
	user, err := auth.NewTicketService(testSecret, 0).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	out, _, err = run(t, cfg, "token", "admin", "-p", "admin-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Admin:")
	assert.Contains(t, out, "true")

	_, _, err = run(t, cfg, "token", "bob", "-p", "wrong")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestUserAdd_RequiresPassword(t *testing.T) {
	_, _, err := run(t, writeConfig(t), "user", "add", "bob")
	assert.EqualError(t, err, "--password is required")
}

func TestScriptsList(t *testing.T) {
	out, _, err := run(t, writeConfig(t), "scripts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "index_get")
	assert.Contains(t, out, "api.login_get")
	assert.Contains(t, out, "/api/login?u={username}&pw={password} (+1)")
	assert.Contains(t, out, "9 scripts")

	out, _, err = run(t, writeConfig(t), "scripts", "list", "--store", "repository")
	require.NoError(t, err)
	assert.Contains(t, out, "no web scripts registered")
}

func TestScriptsDescribe(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, cfg, "scripts", "describe", "api.login_get")
	require.NoError(t, err)
	assert.Contains(t, out, "Login\n")
	assert.Contains(t, out, "Default format: xml")
	assert.Contains(t, out, "Formats:        xml, json")
	assert.Contains(t, out, "api/login_get.json.tmpl")

	_, errOut, err := run(t, cfg, "scripts", "describe", "api.logn_get")
	assert.Error(t, err)
	assert.Contains(t, errOut, "Did you mean: api.login_get")
}

func TestRender(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, cfg, "render", "/service/index.json")
	require.NoError(t, err)
	var index map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &index))
	assert.Len(t, index["scripts"], 9)

	out, _, err = run(t, cfg, "render", "-i", "/service/api/login?u=admin&pw=admin-secret&format=json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "200 OK\n"))
	assert.Contains(t, out, "Content-Type: application/json")
	assert.Contains(t, out, `"ticket":`)

	_, _, err = run(t, cfg, "render", "/service/nowhere")
	assert.EqualError(t, err, "GET /service/nowhere returned 404")
}
