package sqlstore

import (
	"context"
	"errors"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/conduit-lang/webscript/internal/transaction"
)

// Well-known folder names created by Bootstrap
const (
	CompanyHomeName    = "Company Home"
	DataDictionaryName = "Data Dictionary"
	WebScriptsName     = "Web Scripts"
	UserHomesName      = "User Homes"
)

// Layout references the well-known nodes of a bootstrapped repository
type Layout struct {
	Root           repo.NodeRef
	CompanyHome    repo.NodeRef
	DataDictionary repo.NodeRef
	WebScripts     repo.NodeRef
	UserHomes      repo.NodeRef
}

// Bootstrap creates the default store, the well-known folders and the admin
// user. It is idempotent.
func (s *Store) Bootstrap(ctx context.Context, adminPassword string) (*Layout, error) {
	var layout Layout
	err := s.txm.Do(security.WithPrincipal(ctx, security.System), transaction.Required, func(ctx context.Context) error {
		var err error
		if layout.Root, err = s.CreateStore(ctx, repo.SpacesStore); err != nil {
			return err
		}
		if layout.CompanyHome, err = s.ensureFolder(ctx, layout.Root, CompanyHomeName); err != nil {
			return err
		}
		if layout.DataDictionary, err = s.ensureFolder(ctx, layout.CompanyHome, DataDictionaryName); err != nil {
			return err
		}
		if layout.WebScripts, err = s.ensureFolder(ctx, layout.DataDictionary, WebScriptsName); err != nil {
			return err
		}
		if layout.UserHomes, err = s.ensureFolder(ctx, layout.CompanyHome, UserHomesName); err != nil {
			return err
		}

		entries, err := s.entries(ctx, layout.CompanyHome.ID, true)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := s.SetPermission(ctx, layout.CompanyHome, repo.AuthorityEveryone, repo.PermissionConsumer, true); err != nil {
				return err
			}
		}

		if exists, err := s.UserExists(ctx, "admin"); err != nil {
			return err
		} else if !exists && adminPassword != "" {
			if err := s.CreateUser(ctx, "admin", adminPassword, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("repository bootstrapped")
	return &layout, nil
}

// Layout resolves the well-known nodes of an already bootstrapped repository
func (s *Store) Layout(ctx context.Context) (*Layout, error) {
	var (
		layout Layout
		err    error
	)
	if layout.Root, err = s.GetRootNode(ctx, repo.SpacesStore); err != nil {
		return nil, err
	}
	if layout.CompanyHome, err = s.GetChildByName(ctx, layout.Root, CompanyHomeName); err != nil {
		return nil, err
	}
	if layout.DataDictionary, err = s.GetChildByName(ctx, layout.CompanyHome, DataDictionaryName); err != nil {
		return nil, err
	}
	if layout.WebScripts, err = s.GetChildByName(ctx, layout.DataDictionary, WebScriptsName); err != nil {
		return nil, err
	}
	if layout.UserHomes, err = s.GetChildByName(ctx, layout.CompanyHome, UserHomesName); err != nil {
		return nil, err
	}
	return &layout, nil
}

func (s *Store) ensureFolder(ctx context.Context, parent repo.NodeRef, name string) (repo.NodeRef, error) {
	ref, err := s.GetChildByName(ctx, parent, name)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, repo.ErrNodeNotFound) {
		return repo.NodeRef{}, err
	}
	return s.CreateNode(ctx, parent, repo.TypeFolder, name, nil)
}
