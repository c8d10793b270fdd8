package codegen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dave/jennifer/jen"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

const (
	// FileName is the file written into every package with annotated types.
	FileName = "ogm_schema_gen.go"

	schemaPkg = "github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithWorkers bounds the number of files rendered at once.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// Generator loads Go packages and writes their schema registrations.
type Generator struct {
	logger  *zap.Logger
	workers int
}

// New creates a generator.
func New(opts ...Option) *Generator {
	g := &Generator{logger: zap.NewNop(), workers: 4}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load parses the packages matching patterns, resolved relative to dir,
// and returns those with annotated types. Previously generated files are
// ignored.
func (g *Generator) Load(ctx context.Context, dir string, patterns ...string) ([]*Package, error) {
	cfg := &packages.Config{
		Context: ctx,
		Dir:     dir,
		Mode:    packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedSyntax,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}

	var out []*Package
	for _, p := range pkgs {
		for _, perr := range p.Errors {
			if perr.Kind == packages.ParseError {
				return nil, fmt.Errorf("failed to parse %s: %s", p.PkgPath, perr.Msg)
			}
			// Unresolved imports, including those of a stale generated
			// file, do not affect the annotations.
			g.logger.Warn("package error", zap.String("package", p.PkgPath), zap.String("error", perr.Msg))
		}
		pkg := &Package{Name: p.Name, Path: p.PkgPath}
		for i, file := range p.Syntax {
			if i < len(p.CompiledGoFiles) && filepath.Base(p.CompiledGoFiles[i]) == FileName {
				continue
			}
			if pkg.Dir == "" && i < len(p.CompiledGoFiles) {
				pkg.Dir = filepath.Dir(p.CompiledGoFiles[i])
			}
			types, err := ParseFile(p.Fset, file)
			if err != nil {
				return nil, err
			}
			pkg.Types = append(pkg.Types, types...)
		}
		if len(pkg.Types) == 0 {
			g.logger.Debug("no annotated types", zap.String("package", p.PkgPath))
			continue
		}
		sort.Slice(pkg.Types, func(i, j int) bool { return pkg.Types[i].Name < pkg.Types[j].Name })
		out = append(out, pkg)
	}
	return out, nil
}

// Generate renders every package and writes FileName into its directory.
// It returns the written paths in package order.
func (g *Generator) Generate(ctx context.Context, pkgs []*Package) ([]string, error) {
	written := make([]string, len(pkgs))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, pkg := range pkgs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := Render(pkg).Render(&buf); err != nil {
				return fmt.Errorf("failed to render %s: %w", pkg.Path, err)
			}
			path := filepath.Join(pkg.Dir, FileName)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			written[i] = path
			g.logger.Debug("generated schema", zap.String("package", pkg.Path), zap.Int("types", len(pkg.Types)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return written, nil
}

// Render builds the registration file of pkg.
func Render(pkg *Package) *jen.File {
	f := jen.NewFile(pkg.Name)
	f.HeaderComment("Code generated by ogmgen. DO NOT EDIT.")

	f.Comment("OGMSchema returns the mapping configuration of every ogm type in this package.")
	f.Func().Id("OGMSchema").Params().Index().Qual(schemaPkg, "Configurer").Block(
		jen.Return(jen.Index().Qual(schemaPkg, "Configurer").ValuesFunc(func(g *jen.Group) {
			for _, t := range pkg.Types {
				g.Line().Add(define(t))
			}
			g.Line()
		})),
	)
	f.Line()

	f.Comment("RegisterOGMSchema adds the ogm types of this package to reg.")
	f.Func().Id("RegisterOGMSchema").Params(
		jen.Id("reg").Op("*").Qual(schemaPkg, "Registry"),
	).Error().Block(
		jen.Return(jen.Id("reg").Dot("Register").Call(jen.Id("OGMSchema").Call().Op("..."))),
	)
	return f
}

// define renders the builder chain of one type.
func define(t *Type) *jen.Statement {
	s := jen.Qual(schemaPkg, "Define").Types(jen.Id(t.Name)).Call()
	switch {
	case t.Kind == KindRelationship:
		s = s.Dot("RelationshipEntity").Call(jen.Lit(t.EdgeType))
	case t.Label != "":
		s = s.Dot("Label").Call(jen.Lit(t.Label))
	default:
		s = s.Dot("Node").Call()
	}
	if t.Namespace != "" {
		s = s.Dot("Namespace").Call(jen.Lit(t.Namespace))
	}
	if t.Tag != "" {
		s = s.Dot("Tag").Call(jen.Lit(t.Tag))
	}
	if len(t.Extends) > 0 {
		args := make([]jen.Code, len(t.Extends))
		for i, e := range t.Extends {
			args[i] = jen.Lit(e)
		}
		s = s.Dot("ExtendsLabels").Call(args...)
	}

	for _, m := range t.Members {
		field := jen.Lit(m.Field)
		if m.Embeds {
			s = s.Dot("Embeds").Call(field)
			continue
		}
		switch m.Role {
		case schema.RoleID:
			s = s.Dot("ID").Call(field)
		case schema.RoleProperty:
			args := []jen.Code{field}
			if m.Name != "" {
				args = append(args, jen.Qual(schemaPkg, "Named").Call(jen.Lit(m.Name)))
			}
			s = s.Dot("Property").Call(args...)
		case schema.RoleExtension:
			s = s.Dot("Extension").Call(jen.Lit(m.Name), field)
		case schema.RoleRelationship:
			args := []jen.Code{field, jen.Lit(m.EdgeType)}
			if m.Incoming {
				args = append(args, jen.Qual(schemaPkg, "Incoming").Call())
			}
			if m.Undirected {
				args = append(args, jen.Qual(schemaPkg, "Undirected").Call())
			}
			if m.Ordered {
				args = append(args, jen.Qual(schemaPkg, "Ordered").Call())
			}
			s = s.Dot("Relationship").Call(args...)
		case schema.RoleStart:
			s = s.Dot("Start").Call(field)
		case schema.RoleEnd:
			s = s.Dot("End").Call(field)
		case schema.RoleTransient:
			s = s.Dot("Transient").Call(field)
		}
	}
	return s
}
