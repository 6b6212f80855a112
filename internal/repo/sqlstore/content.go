package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
)

// contentReader reads one content property from the database
type contentReader struct {
	store *Store
	ref   repo.NodeRef
	prop  string
	data  repo.ContentData
}

func (r *contentReader) Data() repo.ContentData {
	return r.data
}

func (r *contentReader) LastModified() time.Time {
	return r.data.Modified
}

func (r *contentReader) Open(ctx context.Context) (io.ReadCloser, error) {
	var data []byte
	err := r.store.queryRow(ctx, `SELECT data FROM ws_content WHERE node_id = ? AND prop = ?`, r.ref.ID, r.prop).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", repo.ErrContentNotFound, r.ref, r.prop)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content of %s: %w", r.ref, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetReader returns a reader for a content property
func (s *Store) GetReader(ctx context.Context, ref repo.NodeRef, property string) (repo.ContentReader, error) {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return nil, err
	}
	var (
		mimetype, encoding string
		size, modified     int64
	)
	err := s.queryRow(ctx,
		`SELECT mimetype, encoding, size, modified_at FROM ws_content WHERE node_id = ? AND prop = ?`,
		ref.ID, property,
	).Scan(&mimetype, &encoding, &size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", repo.ErrContentNotFound, ref, property)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content of %s: %w", ref, err)
	}
	return &contentReader{
		store: s,
		ref:   ref,
		prop:  property,
		data: repo.ContentData{
			URL:      contentURL(ref, property),
			Mimetype: mimetype,
			Encoding: encoding,
			Size:     size,
			Modified: fromMillis(modified),
		},
	}, nil
}

// WriteContent stores content for a property and records its descriptor on the node
func (s *Store) WriteContent(ctx context.Context, ref repo.NodeRef, property, mimetype, encoding string, data []byte) error {
	if _, err := s.loadNode(ctx, ref); err != nil {
		return err
	}
	if encoding == "" {
		encoding = "UTF-8"
	}
	now := time.Now().UTC()

	var text sql.NullString
	if isTextual(mimetype) {
		text = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := s.exec(ctx, `DELETE FROM ws_content WHERE node_id = ? AND prop = ?`, ref.ID, property); err != nil {
		return err
	}
	if _, err := s.exec(ctx,
		`INSERT INTO ws_content (node_id, prop, data, text, mimetype, encoding, size, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, property, data, text, mimetype, encoding, int64(len(data)), toMillis(now),
	); err != nil {
		return fmt.Errorf("failed to write content of %s: %w", ref, err)
	}

	return s.SetProperties(ctx, ref, map[string]any{
		property: repo.ContentData{
			URL:      contentURL(ref, property),
			Mimetype: mimetype,
			Encoding: encoding,
			Size:     int64(len(data)),
			Modified: now,
		},
		repo.PropModified: now,
	})
}

func contentURL(ref repo.NodeRef, property string) string {
	return "store://" + ref.ID + "/" + property
}

func isTextual(mimetype string) bool {
	return strings.HasPrefix(mimetype, "text/") ||
		mimetype == "application/json" ||
		mimetype == "application/xml" ||
		mimetype == "application/javascript"
}
