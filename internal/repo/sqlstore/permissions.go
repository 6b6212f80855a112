package sqlstore

import (
	"context"
	"fmt"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
)

// implied lists the permissions granted by holding a role or permission
var implied = map[string][]string{
	repo.PermissionRead:        {repo.PermissionRead},
	repo.PermissionWrite:       {repo.PermissionWrite},
	repo.PermissionConsumer:    {repo.PermissionConsumer, repo.PermissionRead},
	repo.PermissionContributor: {repo.PermissionContributor, repo.PermissionConsumer, repo.PermissionRead},
	"Editor":                   {"Editor", repo.PermissionConsumer, repo.PermissionRead, repo.PermissionWrite},
	"Collaborator":             {"Collaborator", repo.PermissionContributor, "Editor", repo.PermissionConsumer, repo.PermissionRead, repo.PermissionWrite},
}

func grants(held, wanted string) bool {
	if held == repo.PermissionAll || held == repo.PermissionCoordinator {
		return true
	}
	for _, p := range implied[held] {
		if p == wanted {
			return true
		}
	}
	return held == wanted
}

// SetPermission appends an access control entry to a node
func (s *Store) SetPermission(ctx context.Context, ref repo.NodeRef, authority, permission string, allowed bool) error {
	var next int
	if err := s.queryRow(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM ws_acl WHERE node_id = ?`, ref.ID).Scan(&next); err != nil {
		return err
	}
	_, err := s.exec(ctx,
		`INSERT INTO ws_acl (node_id, position, authority, permission, allowed) VALUES (?, ?, ?, ?, ?)`,
		ref.ID, next, authority, permission, allowed,
	)
	if err != nil {
		return fmt.Errorf("failed to set permission on %s: %w", ref, err)
	}
	return nil
}

// SetInheritParentPermissions toggles ACL inheritance for a node
func (s *Store) SetInheritParentPermissions(ctx context.Context, ref repo.NodeRef, inherit bool) error {
	_, err := s.exec(ctx, `UPDATE ws_nodes SET inherit_acl = ? WHERE id = ?`, inherit, ref.ID)
	return err
}

// GetInheritParentPermissions reports whether the node inherits its parent's ACL
func (s *Store) GetInheritParentPermissions(ctx context.Context, ref repo.NodeRef) (bool, error) {
	row, err := s.loadNode(ctx, ref)
	if err != nil {
		return false, err
	}
	return row.inheritACL, nil
}

// GetAllSetPermissions returns the entries set on the node followed by the
// inherited entries, nearest ancestor first
func (s *Store) GetAllSetPermissions(ctx context.Context, ref repo.NodeRef) ([]repo.AccessPermission, error) {
	var out []repo.AccessPermission
	current := ref
	direct := true
	for depth := 0; depth < 256; depth++ {
		row, err := s.loadNode(ctx, current)
		if err != nil {
			return nil, err
		}
		entries, err := s.entries(ctx, row.id, direct)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
		if !row.inheritACL || !row.parentID.Valid {
			break
		}
		current = repo.NodeRef{Store: row.store, ID: row.parentID.String}
		direct = false
	}
	if out == nil {
		out = []repo.AccessPermission{}
	}
	return out, nil
}

func (s *Store) entries(ctx context.Context, nodeID string, direct bool) ([]repo.AccessPermission, error) {
	rows, err := s.query(ctx,
		`SELECT authority, permission, allowed FROM ws_acl WHERE node_id = ? ORDER BY position`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ACL of %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []repo.AccessPermission
	for rows.Next() {
		var (
			ap      repo.AccessPermission
			allowed bool
		)
		if err := rows.Scan(&ap.Authority, &ap.Permission, &allowed); err != nil {
			return nil, err
		}
		ap.Status = repo.Denied
		if allowed {
			ap.Status = repo.Allowed
		}
		ap.Direct = direct
		out = append(out, ap)
	}
	return out, rows.Err()
}

// HasPermission evaluates the caller's access to a node. The first entry,
// nearest first, that matches one of the caller's authorities decides.
// A context without a principal is evaluated as guest.
func (s *Store) HasPermission(ctx context.Context, ref repo.NodeRef, permission string) (bool, error) {
	principal, ok := security.PrincipalFrom(ctx)
	if !ok {
		principal = security.Guest
	}
	if principal.Admin || principal.System {
		return true, nil
	}

	authorities := map[string]bool{principal.Username: true, repo.AuthorityEveryone: true}
	for _, a := range principal.Authorities {
		authorities[a] = true
	}

	entries, err := s.GetAllSetPermissions(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !authorities[e.Authority] || !grants(e.Permission, permission) {
			continue
		}
		return e.Status == repo.Allowed, nil
	}
	return false, nil
}
