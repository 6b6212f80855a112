// Package description parses web script description documents and enumerates
// them from the configured stores.
//
// A document is named <name>_<method>_desc.xml:
//
//	<webscript>
//	  <shortname>Folder listing</shortname>
//	  <description>Lists the children of a folder</description>
//	  <url template="/folders/{path}" format="json"/>
//	  <format default="json"/>
//	  <authentication>user</authentication>
//	  <transaction>required</transaction>
//	</webscript>
package description

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"path"
	"strings"
)

// Suffix ends every description document name
const Suffix = "_desc.xml"

// TemplateExt ends every response template name
const TemplateExt = ".tmpl"

// DefaultFormat is used when a document declares no format at all
const DefaultFormat = "html"

// Authentication is the level of authentication a script requires
type Authentication string

const (
	AuthNone  Authentication = "none"
	AuthGuest Authentication = "guest"
	AuthUser  Authentication = "user"
	AuthAdmin Authentication = "admin"
)

// Transaction is the transactional behaviour a script requires
type Transaction string

const (
	TxNone        Transaction = "none"
	TxRequired    Transaction = "required"
	TxRequiresNew Transaction = "requiresnew"
)

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// URL is one URI template of a script together with the format it serves
type URL struct {
	Template string
	Format   string
}

// Description is the parsed, immutable metadata of one script
type Description struct {
	ID             string
	ShortName      string
	Description    string
	Method         string
	Authentication Authentication
	Transaction    Transaction
	URLs           []URL
	DefaultFormat  string
	// Store names the store the document was loaded from
	Store string
	// Path is the document path within its store
	Path string

	templates map[string]string
}

// DescriptionError reports a document that cannot be parsed
type DescriptionError struct {
	Path string
	Err  error
}

func (e *DescriptionError) Error() string {
	return fmt.Sprintf("invalid web script description %s: %v", e.Path, e.Err)
}

func (e *DescriptionError) Unwrap() error {
	return e.Err
}

// Formats returns the distinct formats declared by the URL entries, in order
func (d *Description) Formats() []string {
	seen := make(map[string]bool, len(d.URLs))
	var out []string
	for _, u := range d.URLs {
		if !seen[u.Format] {
			seen[u.Format] = true
			out = append(out, u.Format)
		}
	}
	return out
}

// SupportsFormat reports whether a URL entry declares the format
func (d *Description) SupportsFormat(format string) bool {
	for _, u := range d.URLs {
		if u.Format == format {
			return true
		}
	}
	return false
}

// Template returns the location of the response template for a format
func (d *Description) Template(format string) (string, bool) {
	loc, ok := d.templates[format]
	return loc, ok
}

// Templates returns a copy of the format to template location map
func (d *Description) Templates() map[string]string {
	out := make(map[string]string, len(d.templates))
	for k, v := range d.templates {
		out[k] = v
	}
	return out
}

// Base returns the document path without the description suffix
func (d *Description) Base() string {
	return strings.TrimSuffix(d.Path, Suffix)
}

// TemplateName returns the conventional template path for a format:
// <name>_<method>.<format>.tmpl next to the document
func TemplateName(docPath, format string) string {
	return strings.TrimSuffix(docPath, Suffix) + "." + format + TemplateExt
}

// IsDocument reports whether a file name follows the description naming convention
func IsDocument(name string) bool {
	return strings.HasSuffix(name, Suffix) && len(path.Base(name)) > len(Suffix)
}

type urlElement struct {
	Template *string `xml:"template,attr"`
	Format   string  `xml:"format,attr"`
}

type formatElement struct {
	Default string `xml:"default,attr"`
}

type document struct {
	XMLName        xml.Name       `xml:"webscript"`
	ShortName      *string        `xml:"shortname"`
	Description    string         `xml:"description"`
	URLs           []urlElement   `xml:"url"`
	Format         *formatElement `xml:"format"`
	Authentication *string        `xml:"authentication"`
	Transaction    *string        `xml:"transaction"`
}

// Parse builds a description from a document path and its XML content. The id
// is the path without the suffix with '/' replaced by '.', and the method is
// the text after the last '_' of the id.
func Parse(docPath string, data []byte) (*Description, error) {
	fail := func(format string, args ...any) error {
		return &DescriptionError{Path: docPath, Err: fmt.Errorf(format, args...)}
	}

	docPath = strings.TrimPrefix(docPath, "/")
	if !IsDocument(docPath) {
		return nil, fail("name must end with %s", Suffix)
	}
	id := strings.ReplaceAll(strings.TrimSuffix(docPath, Suffix), "/", ".")
	idx := strings.LastIndex(id, "_")
	if idx < 0 || idx == len(id)-1 {
		return nil, fail("name does not carry an HTTP method")
	}
	method := strings.ToUpper(id[idx+1:])
	if !knownMethods[method] {
		return nil, fail("unknown HTTP method %q", id[idx+1:])
	}

	var doc document
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, &DescriptionError{Path: docPath, Err: err}
	}
	if doc.ShortName == nil || strings.TrimSpace(*doc.ShortName) == "" {
		return nil, fail("<shortname> is required")
	}
	if len(doc.URLs) == 0 {
		return nil, fail("at least one <url> is required")
	}

	auth := AuthNone
	if doc.Authentication != nil {
		switch a := Authentication(strings.TrimSpace(*doc.Authentication)); a {
		case AuthNone, AuthGuest, AuthUser, AuthAdmin:
			auth = a
		default:
			return nil, fail("unknown authentication %q", *doc.Authentication)
		}
	}

	tx := TxRequired
	if auth == AuthNone {
		tx = TxNone
	}
	if doc.Transaction != nil {
		switch t := Transaction(strings.TrimSpace(*doc.Transaction)); t {
		case TxNone, TxRequired, TxRequiresNew:
			tx = t
		default:
			return nil, fail("unknown transaction %q", *doc.Transaction)
		}
	}

	defaultFormat := ""
	if doc.Format != nil {
		defaultFormat = strings.TrimSpace(doc.Format.Default)
	}
	if defaultFormat == "" {
		for _, u := range doc.URLs {
			if f := strings.TrimSpace(u.Format); f != "" {
				defaultFormat = f
				break
			}
		}
	}
	if defaultFormat == "" {
		defaultFormat = DefaultFormat
	}

	urls := make([]URL, 0, len(doc.URLs))
	for i, u := range doc.URLs {
		if u.Template == nil || strings.TrimSpace(*u.Template) == "" {
			return nil, fail("<url> %d has no template attribute", i+1)
		}
		tmpl := strings.TrimSpace(*u.Template)
		if !strings.HasPrefix(tmpl, "/") {
			return nil, fail("url template %q must start with /", tmpl)
		}
		format := strings.TrimSpace(u.Format)
		if format == "" {
			format = defaultFormat
		}
		urls = append(urls, URL{Template: tmpl, Format: format})
	}

	return &Description{
		ID:             id,
		ShortName:      strings.TrimSpace(*doc.ShortName),
		Description:    strings.TrimSpace(doc.Description),
		Method:         method,
		Authentication: auth,
		Transaction:    tx,
		URLs:           urls,
		DefaultFormat:  defaultFormat,
		Path:           docPath,
		templates:      map[string]string{},
	}, nil
}
