package model

import "github.com/conduit-lang/webscript/internal/repo"

// Convert maps repository values into template values: node references become
// *Node, edges become association wrappers, content becomes *Content and
// containers are copied element-wise. Anything else is returned unchanged.
func (e *Env) Convert(v any) any {
	switch x := v.(type) {
	case repo.NodeRef:
		return newNode(e, x)
	case []repo.NodeRef:
		return e.Nodes(x)
	case repo.ChildAssoc:
		return newChildAssoc(e, x)
	case []repo.ChildAssoc:
		out := make([]*ChildAssoc, len(x))
		for i := range x {
			out[i] = newChildAssoc(e, x[i])
		}
		return out
	case repo.AssocRef:
		return newAssoc(e, x)
	case []repo.AssocRef:
		out := make([]*Assoc, len(x))
		for i := range x {
			out[i] = newAssoc(e, x[i])
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = e.Convert(x[i])
		}
		return out
	case map[string]any:
		return e.ConvertModel(x)
	default:
		return v
	}
}

// ConvertModel copies a template model, converting every value. An ImageResolver
// stored under ImageResolverKey is removed and applied to the environment first.
func (e *Env) ConvertModel(model map[string]any) map[string]any {
	env := e
	switch images := model[ImageResolverKey].(type) {
	case ImageResolver:
		env = e.WithImageResolver(images)
	case func(string, IconSize) string:
		env = e.WithImageResolver(images)
	}
	out := make(map[string]any, len(model))
	for k, v := range model {
		if k == ImageResolverKey {
			continue
		}
		out[k] = env.Convert(v)
	}
	return out
}
