package model

import (
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
)

// FormatPermissions renders access control entries as STATUS;AUTHORITY;PERMISSION,
// suffixed with ;DIRECT or ;INHERITED when full is set. Order is preserved.
func FormatPermissions(perms []repo.AccessPermission, full bool) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		var b strings.Builder
		b.WriteString(string(p.Status))
		b.WriteByte(';')
		b.WriteString(p.Authority)
		b.WriteByte(';')
		b.WriteString(p.Permission)
		if full {
			if p.Direct {
				b.WriteString(";DIRECT")
			} else {
				b.WriteString(";INHERITED")
			}
		}
		out = append(out, b.String())
	}
	return out
}
