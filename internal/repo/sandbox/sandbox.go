// Package sandbox builds and parses the store names used for staging and
// per-user sandboxes of a web project.
//
//	staging          mysite
//	staging preview  mysite--preview
//	user sandbox     mysite--bob
//	user preview     mysite--bob--preview
package sandbox

import (
	"fmt"
	"strings"
)

const (
	// Separator joins the parts of a sandbox store name
	Separator = "--"
	// PreviewSuffix marks a preview store
	PreviewSuffix = Separator + "preview"
)

// StagingStore returns the staging store name for a web project
func StagingStore(storeID string) string {
	return storeID
}

// StagingPreviewStore returns the preview store of the staging area
func StagingPreviewStore(storeID string) string {
	return storeID + PreviewSuffix
}

// UserSandboxStore returns the main sandbox store of a user
func UserSandboxStore(storeID, username string) string {
	return storeID + Separator + username
}

// UserPreviewStore returns the preview store of a user sandbox
func UserPreviewStore(storeID, username string) string {
	return UserSandboxStore(storeID, username) + PreviewSuffix
}

// IsPreviewStore reports whether the name denotes a preview store
func IsPreviewStore(name string) bool {
	return strings.HasSuffix(name, PreviewSuffix)
}

// IsUserSandbox reports whether the name denotes a user sandbox or its preview
func IsUserSandbox(name string) bool {
	return Username(name) != ""
}

// StoreID returns the web project store id a sandbox store belongs to
func StoreID(name string) string {
	if idx := strings.Index(name, Separator); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Username returns the user owning a sandbox store, or "" for staging stores
func Username(name string) string {
	idx := strings.Index(name, Separator)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSuffix(name[idx+len(Separator):], PreviewSuffix)
	if rest == "preview" {
		return ""
	}
	return rest
}

// ValidateName rejects identifiers that would make sandbox names ambiguous
func ValidateName(part string) error {
	if part == "" {
		return fmt.Errorf("sandbox name part cannot be empty")
	}
	if strings.ContainsAny(part, "-/:\\") {
		return fmt.Errorf("sandbox name part %q contains a reserved character", part)
	}
	if part == "preview" {
		return fmt.Errorf("sandbox name part %q is reserved", part)
	}
	return nil
}
