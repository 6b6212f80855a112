package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/google/uuid"
)

// CreateVersion freezes the current properties of a node into the version
// store and records a new minor version
func (s *Store) CreateVersion(ctx context.Context, ref repo.NodeRef, description string) (repo.Version, error) {
	row, err := s.loadNode(ctx, ref)
	if err != nil {
		return repo.Version{}, err
	}
	props, err := s.GetProperties(ctx, ref)
	if err != nil {
		return repo.Version{}, err
	}
	history, err := s.GetVersionHistory(ctx, ref)
	if err != nil {
		return repo.Version{}, err
	}

	label := "1.0"
	if len(history) > 0 {
		label = nextLabel(history[0].Label)
	}

	versionRoot, err := s.CreateStore(ctx, s.versions)
	if err != nil {
		return repo.Version{}, err
	}
	frozen := repo.NodeRef{Store: s.versions, ID: uuid.New().String()}
	now := time.Now().UTC()
	if _, err := s.exec(ctx,
		`INSERT INTO ws_nodes (id, store, type, parent_id, name, inherit_acl, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frozen.ID, s.versions.String(), row.typ, versionRoot.ID, row.name, true, toMillis(now), toMillis(now),
	); err != nil {
		return repo.Version{}, fmt.Errorf("failed to freeze %s: %w", ref, err)
	}
	if err := s.SetProperties(ctx, frozen, props); err != nil {
		return repo.Version{}, err
	}

	creator := security.CurrentUser(ctx)
	if creator == "" {
		creator = repo.UserSystem
	}
	if _, err := s.exec(ctx,
		`INSERT INTO ws_versions (node_id, label, created_at, creator, description, frozen_id) VALUES (?, ?, ?, ?, ?, ?)`,
		ref.ID, label, toMillis(now), creator, description, frozen.ID,
	); err != nil {
		return repo.Version{}, fmt.Errorf("failed to record version of %s: %w", ref, err)
	}
	if err := s.AddAspect(ctx, ref, repo.AspectVersionable); err != nil {
		return repo.Version{}, err
	}

	return repo.Version{Label: label, Created: fromMillis(toMillis(now)), Creator: creator, Description: description, Frozen: frozen}, nil
}

// GetVersionHistory returns the versions of a node, newest first
func (s *Store) GetVersionHistory(ctx context.Context, ref repo.NodeRef) ([]repo.Version, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT label, created_at, creator, description, frozen_id FROM ws_versions WHERE node_id = ? ORDER BY created_at DESC, label DESC`,
		ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load versions of %s: %w", ref, err)
	}
	defer rows.Close()

	versions := make([]repo.Version, 0)
	for rows.Next() {
		var (
			v       repo.Version
			created int64
			frozen  string
		)
		if err := rows.Scan(&v.Label, &created, &v.Creator, &v.Description, &frozen); err != nil {
			return nil, err
		}
		v.Created = fromMillis(created)
		v.Frozen = repo.NodeRef{Store: s.versions, ID: frozen}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func nextLabel(label string) string {
	major, minor, ok := strings.Cut(label, ".")
	if !ok {
		return label + ".1"
	}
	n, err := strconv.Atoi(minor)
	if err != nil {
		return label + ".1"
	}
	return major + "." + strconv.Itoa(n+1)
}
