package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Caster copies an object into another mapped type, keeping the attributes
// the target does not declare in its Meta.
type Caster struct {
	registry     *schema.Registry
	materializer *Materializer
	logger       *zap.Logger
}

// NewCaster creates a caster over the registry.
func NewCaster(reg *schema.Registry, opts ...Option) *Caster {
	o := buildOptions(opts)
	return &Caster{
		registry:     reg,
		materializer: NewMaterializer(reg, opts...),
		logger:       o.logger,
	}
}

// CastTo casts src into a new *T.
func CastTo[T any](c *Caster, src any) (*T, error) {
	out, err := c.Cast(src, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

// Cast copies src into a new instance of target and returns the pointer.
// Both types are described namespace-aware. Properties are matched by
// stored name; properties the target lacks move into its Meta, and target
// properties missing on src are recovered from src's Meta. Relationships
// are copied by edge type or rebuilt from src's overflow edges.
func (c *Caster) Cast(src any, target reflect.Type) (any, error) {
	sv := reflect.ValueOf(src)
	if sv.Kind() != reflect.Pointer || sv.IsNil() {
		return nil, fmt.Errorf("cannot cast %T: need a non-nil pointer", src)
	}
	sdesc, err := c.registry.Describe(sv.Type(), true)
	if err != nil {
		return nil, err
	}
	tdesc, err := c.registry.Describe(target, true)
	if err != nil {
		return nil, err
	}

	out := tdesc.New().Interface()
	smeta := schema.MetaOf(src)
	tmeta := schema.MetaOf(out)

	if id, ok := sdesc.IDOf(src); ok {
		if err := tdesc.SetID(out, id); err != nil {
			return nil, err
		}
	}

	missingSource := make(map[string]*schema.FieldDescriptor, len(sdesc.Fields))
	for name, f := range sdesc.Fields {
		missingSource[name] = f
	}
	var missingSync, missingExt map[string]any
	if smeta != nil {
		missingSync = copyMap(smeta.Sync)
		missingExt = copyMap(smeta.Extensions)
	}

	for _, tf := range tdesc.SortedFields() {
		if sf, ok := sdesc.Fields[tf.Name]; ok {
			delete(missingSource, tf.Name)
			if err := c.copyField(sf, src, tf, out); err != nil {
				c.logger.Warn("skipping cast property", zap.String("field", tf.Name), zap.Error(err))
			}
			continue
		}
		if smeta == nil {
			continue
		}
		storage, key := smeta.Sync, tf.Name
		if tf.Extension {
			storage, key = smeta.Extensions, strings.TrimPrefix(tf.Name, graph.ExtensionPrefix)
			delete(missingExt, key)
		} else {
			delete(missingSync, key)
		}
		stored, ok := storage[key]
		if !ok {
			continue
		}
		if err := replay(tf, out, stored); err != nil {
			c.logger.Warn("skipping cast property", zap.String("field", tf.Name), zap.Error(err))
		}
	}

	if tmeta != nil {
		for k, v := range missingSync {
			tmeta.PutSync(k, v)
		}
		for k, v := range missingExt {
			tmeta.PutExtension(k, v)
		}
		for _, name := range sortedFieldNames(missingSource) {
			sf := missingSource[name]
			props := map[string]any{}
			if err := storeProperty(sf, sf.Get(src), props); err != nil {
				c.logger.Warn("dropping cast property", zap.String("field", name), zap.Error(err))
				continue
			}
			for k, v := range props {
				if sf.Extension {
					tmeta.PutExtension(k, v)
				} else {
					tmeta.PutSync(k, v)
				}
			}
		}
		if smeta != nil {
			tmeta.Labels = append([]string(nil), smeta.Labels...)
			for rel, entries := range smeta.KeyedEdges {
				for k, id := range entries {
					tmeta.SetKeyedEdge(rel, k, id)
				}
			}
		}
	}

	if err := c.castRelationships(sdesc, src, smeta, tdesc, out, tmeta); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Caster) castRelationships(sdesc *schema.TypeDescriptor, src any, smeta *schema.Meta, tdesc *schema.TypeDescriptor, out any, tmeta *schema.Meta) error {
	osv := reflect.ValueOf(out).Elem()
	consumed := map[string]bool{}

	for _, tr := range tdesc.SortedRelationships() {
		if sr, ok := sdesc.Relationships[tr.Type]; ok {
			v := sr.Get(src)
			if v.IsValid() && v.Type().AssignableTo(tr.FieldDescriptor.Type) {
				tr.Settable(osv).Set(v)
			} else if v.IsValid() {
				c.logger.Warn("skipping cast relationship", zap.String("edge", tr.Type), zap.String("from", v.Type().String()))
			}
			continue
		}
		if smeta == nil {
			continue
		}
		overflow, ok := smeta.Overflow[tr.Type]
		if !ok {
			continue
		}
		consumed[tr.Type] = true
		for _, ov := range overflow {
			if err := c.recoverEdge(tr, osv, out, ov); err != nil {
				return err
			}
		}
	}

	if tmeta != nil && smeta != nil {
		for edge, overflow := range smeta.Overflow {
			if consumed[edge] {
				continue
			}
			for _, ov := range overflow {
				tmeta.AddOverflow(ov.Edge, ov.Node)
			}
		}
	}
	return nil
}

// recoverEdge materializes one overflow edge into the relationship member.
func (c *Caster) recoverEdge(tr *schema.RelationshipDescriptor, osv reflect.Value, out any, ov schema.OverflowEdge) error {
	var (
		target *schema.TypeDescriptor
		err    error
	)
	if tr.Dynamic() {
		if ov.Node == nil {
			return nil
		}
		target, err = ResolveDynamic(c.registry, tr, ov.Node)
	} else {
		target, err = tr.Target()
	}
	if err != nil {
		c.logger.Warn("cannot recover overflow edge", zap.String("edge", tr.Type), zap.Error(err))
		return nil
	}

	var child any
	if target.IsRelationship() {
		child, err = c.materializer.MaterializeEdge(target, ov.Edge, nil, ov.Node, nil)
		if err != nil {
			return err
		}
		if srcRel, ok := target.Relationships[schema.SourceEdge]; ok {
			if err := srcRel.Set(child, reflect.ValueOf(out)); err != nil {
				c.logger.Warn("cannot link relationship source", zap.String("type", target.Name), zap.Error(err))
			}
		}
	} else {
		if ov.Node == nil {
			return nil
		}
		child, err = c.materializer.Materialize(target, ov.Node, nil, nil, nil)
		if err != nil {
			return err
		}
	}

	cv := reflect.ValueOf(child)
	if !cv.Type().AssignableTo(tr.Elem) {
		return nil
	}
	if tr.Keyed != nil {
		return tr.Keyed.Place(osv, ov.Edge.Properties[graph.KeyProperty], cv)
	}
	return AppendOrSet(tr, osv, cv)
}

// copyField moves a value between two members that share a stored name.
// Differently typed members go through the stored form.
func (c *Caster) copyField(sf *schema.FieldDescriptor, src any, tf *schema.FieldDescriptor, out any) error {
	v := sf.Get(src)
	if !v.IsValid() {
		return nil
	}
	if v.Type().AssignableTo(tf.Type) {
		return tf.Set(out, v)
	}
	props := map[string]any{}
	if err := storeProperty(sf, v, props); err != nil {
		return err
	}
	for _, k := range graph.SortedKeys(props) {
		_, rest := splitName(k, tf.Name)
		if err := assignProperty(tf, out, rest, props[k]); err != nil {
			return err
		}
	}
	return nil
}

// replay folds a value kept in Meta into a member. Grouped values are
// replayed entry by entry in sorted sub-key order.
func replay(tf *schema.FieldDescriptor, out any, stored any) error {
	group, ok := stored.(map[string]any)
	if !ok || tf.Converter == nil {
		return assignProperty(tf, out, "", stored)
	}
	for _, sub := range graph.SortedKeys(group) {
		if err := assignProperty(tf, out, sub, group[sub]); err != nil {
			return err
		}
	}
	return nil
}

func splitName(key, name string) (string, string) {
	if key == name {
		return name, ""
	}
	return name, strings.TrimPrefix(key, name+graph.Separator)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedFieldNames(m map[string]*schema.FieldDescriptor) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
