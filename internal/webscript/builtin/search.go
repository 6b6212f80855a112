package builtin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/conduit-lang/webscript/internal/model"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/webscript/runtime"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Search is one page of keyword search results
type Search struct {
	Terms     string
	Total     int
	StartPage int
	Count     int
	Results   []*model.Node
}

// StartIndex is the 1-based position of the first result on the page
func (s Search) StartIndex() int {
	return (s.StartPage-1)*s.Count + 1
}

// HasNext reports whether results remain beyond this page
func (s Search) HasNext() bool {
	return s.StartPage*s.Count < s.Total
}

// NextPage is the page after this one
func (s Search) NextPage() int {
	return s.StartPage + 1
}

func intArg(s *runtime.Script, name string, def, min, max int) (int, error) {
	v := s.Arg(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, runtime.Status(http.StatusBadRequest, "argument %s must be a number between %d and %d", name, min, max)
	}
	return n, nil
}

func keywordSearch(ctx context.Context, s *runtime.Script) error {
	terms := s.Arg("searchTerms")
	if terms == "" {
		return runtime.Status(http.StatusBadRequest, "search terms not specified")
	}
	page, err := intArg(s, "startPage", 1, 1, 1<<20)
	if err != nil {
		return err
	}
	count, err := intArg(s, "count", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return err
	}

	company, err := s.CompanyHome(ctx)
	if err != nil {
		return err
	}
	all, err := s.Env(ctx).Node(company).Search().Get(terms)
	var qe *repo.QueryError
	if errors.As(err, &qe) {
		return &runtime.StatusError{Code: http.StatusBadRequest, Message: "invalid search", Err: err}
	}
	if err != nil {
		return err
	}

	var visible []*model.Node
	for _, n := range all {
		if n.HasPermission(repo.PermissionRead) {
			visible = append(visible, n)
		}
	}
	start := (page - 1) * count
	end := start + count
	if start > len(visible) {
		start = len(visible)
	}
	if end > len(visible) {
		end = len(visible)
	}

	s.Model["search"] = Search{
		Terms:     terms,
		Total:     len(visible),
		StartPage: page,
		Count:     count,
		Results:   visible[start:end],
	}
	return nil
}
