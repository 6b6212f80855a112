package templating

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo/sandbox"
)

// maxIncludeDepth stops include cycles
const maxIncludeDepth = 16

type includeDepthKey struct{}

func includeDepth(ctx context.Context) int {
	d, _ := ctx.Value(includeDepthKey{}).(int)
	return d
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// orDefault returns value unless it is nil or the zero value of its type
func orDefault(def, value any) any {
	if value == nil {
		return def
	}
	rv := reflect.ValueOf(value)
	if rv.IsZero() {
		return def
	}
	return value
}

// staticFuncs are the functions that do not depend on the render
func staticFuncs() map[string]any {
	return map[string]any{
		"json":             toJSON,
		"urlencode":        url.QueryEscape,
		"xml":              escapeXML,
		"stagingStore":     sandbox.StagingStore,
		"userSandboxStore": sandbox.UserSandboxStore,
		"storeID":          sandbox.StoreID,
		"sandboxUser":      sandbox.Username,
		"default":          orDefault,
		"upper":            strings.ToUpper,
		"lower":            strings.ToLower,
	}
}

// placeholderFuncs declares every function name at parse time
func placeholderFuncs() map[string]any {
	funcs := staticFuncs()
	funcs["include"] = func(name string, data ...any) (any, error) {
		return nil, fmt.Errorf("include %s: not bound to a render", name)
	}
	return funcs
}

// funcs binds the render-dependent functions for one execution
func (s *Session) funcs(ctx context.Context, p *Processor, from *Source) map[string]any {
	funcs := staticFuncs()
	funcs["include"] = func(name string, data ...any) (any, error) {
		depth := includeDepth(ctx)
		if depth >= maxIncludeDepth {
			return nil, fmt.Errorf("include %s: nesting deeper than %d", name, maxIncludeDepth)
		}
		var model any
		if len(data) > 0 {
			model = data[0]
		}
		return p.include(context.WithValue(ctx, includeDepthKey{}, depth+1), s, from, name, model)
	}
	return funcs
}
