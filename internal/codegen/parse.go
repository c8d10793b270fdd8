// Package codegen generates schema registrations from annotated structs.
//
// A struct opts in with a doc comment directive:
//
//	//ogm:node label=Person namespace=crm tag=person extends=Party:Entity
//	//ogm:relationship type=KNOWS
//
// and declares its members with ogm struct tags:
//
//	ID      *int64            `ogm:"id"`
//	Name    string            `ogm:"property"`
//	Email   string            `ogm:"property=mail"`
//	Notes   string            `ogm:"extension=notes"`
//	Friends []*Person         `ogm:"rel=KNOWS,incoming"`
//	Steps   []*Step           `ogm:"rel=NEXT,ordered"`
//	From    *Person           `ogm:"start"`
//	To      *Person           `ogm:"end"`
//	Base                      `ogm:"embeds"`
//	Cache   map[string]string `ogm:"-"`
//
// Fields without a tag are not mapped.
package codegen

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

const (
	// TagName is the struct tag key read from fields.
	TagName = "ogm"

	directiveNode         = "ogm:node"
	directiveRelationship = "ogm:relationship"
)

// ErrInvalidTag is returned for a malformed directive or field tag.
var ErrInvalidTag = errors.New("invalid ogm annotation")

// Kind distinguishes node types from relationship entities.
type Kind int

const (
	KindNode Kind = iota
	KindRelationship
)

// Type is one annotated struct.
type Type struct {
	Name      string
	Kind      Kind
	Label     string
	EdgeType  string
	Namespace string
	Tag       string
	Extends   []string
	Members   []Member
}

// Member is one tagged field.
type Member struct {
	Field string
	Role  schema.Role
	// Name is the stored property name, or the extension name.
	Name       string
	EdgeType   string
	Incoming   bool
	Undirected bool
	Ordered    bool
	Embeds     bool
}

// Package is the set of annotated types of one Go package.
type Package struct {
	Name  string
	Path  string
	Dir   string
	Types []*Type
}

// ParseFile collects the annotated structs of one file.
func ParseFile(fset *token.FileSet, file *ast.File) ([]*Type, error) {
	var out []*Type
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			doc := ts.Doc
			if doc == nil && len(gen.Specs) == 1 {
				doc = gen.Doc
			}
			directive, args, ok := findDirective(doc)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok {
				return nil, positioned(fset, ts.Pos(), fmt.Errorf("%w: %s is not a struct", ErrInvalidTag, ts.Name.Name))
			}
			t, err := parseType(ts.Name.Name, directive, args)
			if err != nil {
				return nil, positioned(fset, ts.Pos(), err)
			}
			for _, field := range st.Fields.List {
				m, ok, err := parseField(field)
				if err != nil {
					return nil, positioned(fset, field.Pos(), fmt.Errorf("%s: %w", ts.Name.Name, err))
				}
				if ok {
					t.Members = append(t.Members, m)
				}
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func positioned(fset *token.FileSet, pos token.Pos, err error) error {
	if fset == nil {
		return err
	}
	return fmt.Errorf("%s: %w", fset.Position(pos), err)
}

func findDirective(doc *ast.CommentGroup) (string, string, bool) {
	if doc == nil {
		return "", "", false
	}
	for _, c := range doc.List {
		text := strings.TrimPrefix(c.Text, "//")
		for _, d := range []string{directiveNode, directiveRelationship} {
			if text == d || strings.HasPrefix(text, d+" ") {
				return d, strings.TrimSpace(strings.TrimPrefix(text, d)), true
			}
		}
	}
	return "", "", false
}

func parseType(name, directive, args string) (*Type, error) {
	t := &Type{Name: name}
	if directive == directiveRelationship {
		t.Kind = KindRelationship
	}
	for _, arg := range strings.Fields(args) {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("%w: %s: expected key=value, got %q", ErrInvalidTag, name, arg)
		}
		switch key {
		case "label":
			t.Label = value
		case "type":
			t.EdgeType = value
		case "namespace":
			t.Namespace = value
		case "tag":
			t.Tag = value
		case "extends":
			t.Extends = append(t.Extends, value)
		default:
			return nil, fmt.Errorf("%w: %s: unknown directive argument %q", ErrInvalidTag, name, key)
		}
	}
	switch {
	case t.Kind == KindRelationship && t.EdgeType == "":
		return nil, fmt.Errorf("%w: %s: relationship needs type=<EDGE>", ErrInvalidTag, name)
	case t.Kind == KindNode && t.EdgeType != "":
		return nil, fmt.Errorf("%w: %s: type= is only valid on relationships", ErrInvalidTag, name)
	case t.Kind == KindRelationship && t.Label != "":
		return nil, fmt.Errorf("%w: %s: label= is only valid on nodes", ErrInvalidTag, name)
	}
	return t, nil
}

func parseField(field *ast.Field) (Member, bool, error) {
	if field.Tag == nil {
		return Member{}, false, nil
	}
	raw, err := strconv.Unquote(field.Tag.Value)
	if err != nil {
		return Member{}, false, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	tag, ok := reflect.StructTag(raw).Lookup(TagName)
	if !ok {
		return Member{}, false, nil
	}

	name, err := fieldName(field)
	if err != nil {
		return Member{}, false, err
	}
	m, err := ParseTag(tag)
	if err != nil {
		return Member{}, false, fmt.Errorf("field %s: %w", name, err)
	}
	m.Field = name
	if m.Embeds && len(field.Names) > 0 {
		return Member{}, false, fmt.Errorf("%w: field %s: embeds needs an embedded field", ErrInvalidTag, name)
	}
	return m, true, nil
}

func fieldName(field *ast.Field) (string, error) {
	switch len(field.Names) {
	case 1:
		return field.Names[0].Name, nil
	case 0:
		expr := field.Type
		if star, ok := expr.(*ast.StarExpr); ok {
			expr = star.X
		}
		switch x := expr.(type) {
		case *ast.Ident:
			return x.Name, nil
		case *ast.SelectorExpr:
			return x.Sel.Name, nil
		}
		return "", fmt.Errorf("%w: unsupported embedded field", ErrInvalidTag)
	}
	return "", fmt.Errorf("%w: tag shared by %d fields", ErrInvalidTag, len(field.Names))
}

// ParseTag parses the value of an ogm struct tag. The Field of the result
// is left empty.
func ParseTag(tag string) (Member, error) {
	parts := strings.Split(tag, ",")
	role, arg, _ := strings.Cut(strings.TrimSpace(parts[0]), "=")

	var m Member
	switch role {
	case "id":
		m.Role = schema.RoleID
	case "property":
		m.Role = schema.RoleProperty
		m.Name = arg
	case "extension":
		if arg == "" {
			return m, fmt.Errorf("%w: extension needs a name", ErrInvalidTag)
		}
		m.Role = schema.RoleExtension
		m.Name = arg
	case "rel":
		if arg == "" {
			return m, fmt.Errorf("%w: rel needs an edge type", ErrInvalidTag)
		}
		m.Role = schema.RoleRelationship
		m.EdgeType = arg
	case "start":
		m.Role = schema.RoleStart
	case "end":
		m.Role = schema.RoleEnd
	case "embeds":
		m.Embeds = true
	case "-":
		m.Role = schema.RoleTransient
	default:
		return m, fmt.Errorf("%w: unknown role %q", ErrInvalidTag, role)
	}
	if arg != "" && role != "property" && role != "extension" && role != "rel" {
		return m, fmt.Errorf("%w: %s takes no value", ErrInvalidTag, role)
	}

	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		if m.Role != schema.RoleRelationship || m.Embeds {
			return m, fmt.Errorf("%w: option %q is only valid on rel", ErrInvalidTag, opt)
		}
		switch opt {
		case "incoming":
			m.Incoming = true
		case "undirected":
			m.Undirected = true
		case "ordered":
			m.Ordered = true
		default:
			return m, fmt.Errorf("%w: unknown option %q", ErrInvalidTag, opt)
		}
	}
	if m.Incoming && m.Undirected {
		return m, fmt.Errorf("%w: incoming and undirected are exclusive", ErrInvalidTag)
	}
	return m, nil
}
