package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/google/uuid"
)

// nodeRow is the stored state of one node
type nodeRow struct {
	id         string
	store      repo.StoreRef
	typ        string
	parentID   sql.NullString
	name       string
	inheritACL bool
}

func (s *Store) loadNode(ctx context.Context, ref repo.NodeRef) (*nodeRow, error) {
	var (
		row   nodeRow
		store string
	)
	err := s.queryRow(ctx,
		`SELECT id, store, type, parent_id, name, inherit_acl FROM ws_nodes WHERE id = ?`, ref.ID,
	).Scan(&row.id, &store, &row.typ, &row.parentID, &row.name, &row.inheritACL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repo.ErrNodeNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", ref, err)
	}
	row.store, err = repo.ParseStoreRef(store)
	if err != nil {
		return nil, err
	}
	if row.store != ref.Store {
		return nil, fmt.Errorf("%w: %s", repo.ErrNodeNotFound, ref)
	}
	return &row, nil
}

func (r *nodeRow) ref() repo.NodeRef {
	return repo.NodeRef{Store: r.store, ID: r.id}
}

// Exists reports whether the node is present
func (s *Store) Exists(ctx context.Context, ref repo.NodeRef) (bool, error) {
	_, err := s.loadNode(ctx, ref)
	if errors.Is(err, repo.ErrNodeNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetRootNode returns the root of a store
func (s *Store) GetRootNode(ctx context.Context, store repo.StoreRef) (repo.NodeRef, error) {
	var id string
	err := s.queryRow(ctx, `SELECT root_id FROM ws_stores WHERE store = ?`, store.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return repo.NodeRef{}, fmt.Errorf("%w: no root for store %s", repo.ErrNodeNotFound, store)
	}
	if err != nil {
		return repo.NodeRef{}, fmt.Errorf("failed to load root of %s: %w", store, err)
	}
	return repo.NodeRef{Store: store, ID: id}, nil
}

// GetType returns the node type
func (s *Store) GetType(ctx context.Context, ref repo.NodeRef) (string, error) {
	row, err := s.loadNode(ctx, ref)
	if err != nil {
		return "", err
	}
	return row.typ, nil
}

// GetAspects returns the aspects applied to a node, sorted by name
func (s *Store) GetAspects(ctx context.Context, ref repo.NodeRef) ([]string, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT aspect FROM ws_aspects WHERE node_id = ? ORDER BY aspect`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aspects of %s: %w", ref, err)
	}
	defer rows.Close()

	aspects := make([]string, 0)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		aspects = append(aspects, a)
	}
	return aspects, rows.Err()
}

// GetProperties returns every property of a node
func (s *Store) GetProperties(ctx context.Context, ref repo.NodeRef) (map[string]any, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT name, value FROM ws_properties WHERE node_id = ?`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load properties of %s: %w", ref, err)
	}
	defer rows.Close()

	props := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		v, err := unmarshalValue(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt property %s on %s: %w", name, ref, err)
		}
		props[name] = v
	}
	return props, rows.Err()
}

// GetPrimaryParent returns the primary parent association
func (s *Store) GetPrimaryParent(ctx context.Context, ref repo.NodeRef) (repo.ChildAssoc, error) {
	row, err := s.loadNode(ctx, ref)
	if err != nil {
		return repo.ChildAssoc{}, err
	}
	assoc := repo.ChildAssoc{Child: ref, Name: row.name, Primary: true}
	if row.parentID.Valid {
		assoc.Parent = repo.NodeRef{Store: row.store, ID: row.parentID.String}
	}
	return assoc, nil
}

// GetChildAssocs returns children the caller may read, ordered by name
func (s *Store) GetChildAssocs(ctx context.Context, ref repo.NodeRef) ([]repo.ChildAssoc, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT id, name FROM ws_nodes WHERE parent_id = ? ORDER BY name`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", ref, err)
	}

	var assocs []repo.ChildAssoc
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		assocs = append(assocs, repo.ChildAssoc{
			Parent:  ref,
			Child:   repo.NodeRef{Store: ref.Store, ID: id},
			Name:    name,
			Primary: true,
		})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	visible := make([]repo.ChildAssoc, 0, len(assocs))
	for _, a := range assocs {
		ok, err := s.HasPermission(ctx, a.Child, repo.PermissionRead)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

// GetChildByName returns the named child of a parent
func (s *Store) GetChildByName(ctx context.Context, parent repo.NodeRef, name string) (repo.NodeRef, error) {
	var id string
	err := s.queryRow(ctx, `SELECT id FROM ws_nodes WHERE parent_id = ? AND name = ?`, parent.ID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return repo.NodeRef{}, fmt.Errorf("%w: %s/%s", repo.ErrNodeNotFound, parent, name)
	}
	if err != nil {
		return repo.NodeRef{}, fmt.Errorf("failed to load child %q of %s: %w", name, parent, err)
	}
	return repo.NodeRef{Store: parent.Store, ID: id}, nil
}

// GetTargetAssocs returns peer associations where the node is the source
func (s *Store) GetTargetAssocs(ctx context.Context, ref repo.NodeRef) ([]repo.AssocRef, error) {
	return s.assocs(ctx, ref, `SELECT source_id, target_id, type FROM ws_assocs WHERE source_id = ? ORDER BY type, target_id`)
}

// GetSourceAssocs returns peer associations where the node is the target
func (s *Store) GetSourceAssocs(ctx context.Context, ref repo.NodeRef) ([]repo.AssocRef, error) {
	return s.assocs(ctx, ref, `SELECT source_id, target_id, type FROM ws_assocs WHERE target_id = ? ORDER BY type, source_id`)
}

func (s *Store) assocs(ctx context.Context, ref repo.NodeRef, query string) ([]repo.AssocRef, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, query, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load associations of %s: %w", ref, err)
	}
	defer rows.Close()

	out := make([]repo.AssocRef, 0)
	for rows.Next() {
		var src, dst, typ string
		if err := rows.Scan(&src, &dst, &typ); err != nil {
			return nil, err
		}
		out = append(out, repo.AssocRef{
			Source: repo.NodeRef{Store: ref.Store, ID: src},
			Target: repo.NodeRef{Store: ref.Store, ID: dst},
			Type:   typ,
		})
	}
	return out, rows.Err()
}

// GetPath returns the display path of a node, excluding the store root
func (s *Store) GetPath(ctx context.Context, ref repo.NodeRef) (string, error) {
	var names []string
	current := ref
	for depth := 0; depth < 256; depth++ {
		row, err := s.loadNode(ctx, current)
		if err != nil {
			return "", err
		}
		if !row.parentID.Valid {
			break
		}
		names = append(names, row.name)
		current = repo.NodeRef{Store: row.store, ID: row.parentID.String}
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/"), nil
}

// CreateStore creates a store and its root node, returning the root
func (s *Store) CreateStore(ctx context.Context, store repo.StoreRef) (repo.NodeRef, error) {
	if root, err := s.GetRootNode(ctx, store); err == nil {
		return root, nil
	}
	ref := repo.NodeRef{Store: store, ID: uuid.New().String()}
	now := toMillis(time.Now())
	if _, err := s.exec(ctx,
		`INSERT INTO ws_nodes (id, store, type, parent_id, name, inherit_acl, created_at, modified_at)
		 VALUES (?, ?, ?, NULL, ?, ?, ?, ?)`,
		ref.ID, store.String(), "sys:store_root", "", true, now, now,
	); err != nil {
		return repo.NodeRef{}, fmt.Errorf("failed to create root of %s: %w", store, err)
	}
	if _, err := s.exec(ctx, `INSERT INTO ws_stores (store, root_id) VALUES (?, ?)`, store.String(), ref.ID); err != nil {
		return repo.NodeRef{}, fmt.Errorf("failed to register store %s: %w", store, err)
	}
	return ref, nil
}

// CreateNode creates a child node with the given type, name and properties
func (s *Store) CreateNode(ctx context.Context, parent repo.NodeRef, typ, name string, props map[string]any) (repo.NodeRef, error) {
	if _, err := s.loadNode(ctx, parent); err != nil {
		return repo.NodeRef{}, err
	}
	if name == "" {
		return repo.NodeRef{}, fmt.Errorf("node name cannot be empty")
	}

	ref := repo.NodeRef{Store: parent.Store, ID: uuid.New().String()}
	now := time.Now().UTC()
	if _, err := s.exec(ctx,
		`INSERT INTO ws_nodes (id, store, type, parent_id, name, inherit_acl, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, parent.Store.String(), typ, parent.ID, name, true, toMillis(now), toMillis(now),
	); err != nil {
		return repo.NodeRef{}, fmt.Errorf("failed to create node %q: %w", name, err)
	}

	all := map[string]any{
		repo.PropName:     name,
		repo.PropCreated:  now,
		repo.PropModified: now,
	}
	if user := security.CurrentUser(ctx); user != "" {
		all[repo.PropCreator] = user
		all[repo.PropModifier] = user
	}
	for k, v := range props {
		all[k] = v
	}
	if err := s.SetProperties(ctx, ref, all); err != nil {
		return repo.NodeRef{}, err
	}
	return ref, nil
}

// SetProperties writes properties onto a node, replacing existing values
func (s *Store) SetProperties(ctx context.Context, ref repo.NodeRef, props map[string]any) error {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := marshalValue(props[name])
		if err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		if _, err := s.exec(ctx, `DELETE FROM ws_properties WHERE node_id = ? AND name = ?`, ref.ID, name); err != nil {
			return err
		}
		if _, err := s.exec(ctx, `INSERT INTO ws_properties (node_id, name, value) VALUES (?, ?, ?)`, ref.ID, name, raw); err != nil {
			return fmt.Errorf("failed to set property %s on %s: %w", name, ref, err)
		}
		if name == repo.PropName {
			if n, ok := props[name].(string); ok {
				if _, err := s.exec(ctx, `UPDATE ws_nodes SET name = ? WHERE id = ?`, n, ref.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// AddAspect applies an aspect to a node
func (s *Store) AddAspect(ctx context.Context, ref repo.NodeRef, aspect string) error {
	if _, err := s.exec(ctx, `DELETE FROM ws_aspects WHERE node_id = ? AND aspect = ?`, ref.ID, aspect); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO ws_aspects (node_id, aspect) VALUES (?, ?)`, ref.ID, aspect)
	return err
}

// CreateAssoc creates a peer association
func (s *Store) CreateAssoc(ctx context.Context, source, target repo.NodeRef, typ string) error {
	_, err := s.exec(ctx, `INSERT INTO ws_assocs (source_id, target_id, type) VALUES (?, ?, ?)`, source.ID, target.ID, typ)
	if err != nil {
		return fmt.Errorf("failed to associate %s with %s: %w", source, target, err)
	}
	return nil
}

// DeleteNode removes a node and, recursively, its children
func (s *Store) DeleteNode(ctx context.Context, ref repo.NodeRef) error {
	rows, err := s.query(ctx, `SELECT id FROM ws_nodes WHERE parent_id = ?`, ref.ID)
	if err != nil {
		return err
	}
	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		children = append(children, id)
	}
	rows.Close()

	for _, id := range children {
		if err := s.DeleteNode(ctx, repo.NodeRef{Store: ref.Store, ID: id}); err != nil {
			return err
		}
	}

	for _, stmt := range []string{
		`DELETE FROM ws_properties WHERE node_id = ?`,
		`DELETE FROM ws_aspects WHERE node_id = ?`,
		`DELETE FROM ws_content WHERE node_id = ?`,
		`DELETE FROM ws_acl WHERE node_id = ?`,
		`DELETE FROM ws_assocs WHERE source_id = ? OR target_id = ?`,
		`DELETE FROM ws_nodes WHERE id = ?`,
	} {
		args := []any{ref.ID}
		if strings.Count(stmt, "?") == 2 {
			args = append(args, ref.ID)
		}
		if _, err := s.exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, err)
		}
	}
	return nil
}
