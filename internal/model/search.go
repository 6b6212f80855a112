package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
	"go.uber.org/zap"
)

// PathResultMap resolves name paths relative to a parent node
type PathResultMap struct {
	parent *Node
}

// Get resolves a slash separated name path, e.g. "Documents/report.txt".
// It returns nil when nothing matches and the first node when several do.
func (m *PathResultMap) Get(namePath string) (*Node, error) {
	var (
		steps  []string
		params = map[string]string{}
	)
	for _, name := range strings.Split(strings.Trim(namePath, "/"), "/") {
		if name == "" {
			continue
		}
		key := fmt.Sprintf("p%d", len(steps)+1)
		params[key] = name
		steps = append(steps, "$"+key)
	}
	if len(steps) == 0 {
		return m.parent, nil
	}

	env := m.parent.env
	statement := strings.Join(steps, "/")
	q := repo.Query{
		Language:  repo.LanguagePath,
		Store:     m.parent.ref.Store,
		Root:      m.parent.ref,
		Statement: statement,
		Params:    params,
		Limit:     1,
	}
	rs, err := env.services.Search().Query(env.ctx, q)
	if err != nil {
		return nil, asQueryError(q, err)
	}
	defer rs.Close()

	if rs.Len() == 0 {
		return nil, nil
	}
	return newNode(env, rs.NodeRef(0)), nil
}

// SearchResultMap executes full-text queries in the store of a parent node
type SearchResultMap struct {
	parent *Node
}

// Get runs a full-text query and returns the distinct matches that still exist
func (m *SearchResultMap) Get(query string) ([]*Node, error) {
	env := m.parent.env
	q := repo.Query{
		Language:  repo.LanguageFTS,
		Store:     m.parent.ref.Store,
		Statement: query,
	}
	rs, err := env.services.Search().Query(env.ctx, q)
	if err != nil {
		return nil, asQueryError(q, err)
	}
	defer rs.Close()

	seen := make(map[repo.NodeRef]struct{}, rs.Len())
	nodes := make([]*Node, 0, rs.Len())
	for _, ref := range rs.NodeRefs() {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		exists, err := env.services.Nodes().Exists(env.ctx, ref)
		if err != nil {
			return nil, asQueryError(q, err)
		}
		if !exists {
			env.logger.Debug("dropping stale search result", zap.String("node", ref.String()))
			continue
		}
		nodes = append(nodes, newNode(env, ref))
	}
	return nodes, nil
}

// Saved runs the query stored as the content of the referenced node
func (m *SearchResultMap) Saved(ref string) ([]*Node, error) {
	nodeRef, err := repo.ParseNodeRef(ref)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(readAll(m.parent.env, nodeRef, repo.PropContent))
	if query == "" {
		return []*Node{}, nil
	}
	return m.Get(query)
}

func asQueryError(q repo.Query, err error) error {
	var qe *repo.QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &repo.QueryError{Language: q.Language, Query: q.Statement, Err: err}
}
