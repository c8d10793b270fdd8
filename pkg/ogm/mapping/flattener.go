package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Flat is the stored form of one object.
type Flat struct {
	Labels     []string
	ID         *int64
	Properties map[string]any
}

// Flattener turns objects into label and property maps.
type Flattener struct {
	logger *zap.Logger
}

// NewFlattener creates a flattener.
func NewFlattener(opts ...Option) *Flattener {
	o := buildOptions(opts)
	return &Flattener{logger: o.logger}
}

// Flatten converts obj, a pointer to desc's type, into its stored form.
// Properties that fail to convert are logged and left out, except numbers
// out of the storable range, which fail the whole object.
func (f *Flattener) Flatten(desc *schema.TypeDescriptor, obj any) (*Flat, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != desc.Type {
		return nil, fmt.Errorf("cannot flatten %T as %s", obj, desc.Name)
	}

	out := &Flat{
		Labels:     append([]string(nil), desc.ActiveLabels()...),
		Properties: make(map[string]any, len(desc.Fields)+1),
	}
	if id, ok := desc.IDOf(obj); ok {
		out.ID = &id
	}

	for _, fd := range desc.SortedFields() {
		if err := storeProperty(fd, fd.Get(obj), out.Properties); err != nil {
			if errors.Is(err, convert.ErrOverflow) {
				return nil, fmt.Errorf("flatten %s.%s: %w", desc.Name, fd.GoName, err)
			}
			f.logger.Warn("skipping property",
				zap.String("type", desc.Name),
				zap.String("field", fd.Name),
				zap.Error(err),
			)
		}
	}

	if desc.NamespaceAware {
		if meta := schema.MetaOf(obj); meta != nil {
			demap(meta.Sync, "", out.Properties)
			demap(meta.Extensions, graph.ExtensionPrefix, out.Properties)
		}
	}

	if desc.Tag != "" && !desc.IsRelationship() {
		out.Properties[graph.TypeTagProperty] = desc.Tag
	}
	return out, nil
}

// storeProperty writes the stored form of v under the field name.
func storeProperty(fd *schema.FieldDescriptor, v reflect.Value, out map[string]any) error {
	if !v.IsValid() {
		return nil
	}
	if fd.Converter != nil {
		return fd.Converter.ToStorage(fd.Name, v, out)
	}
	p, err := convert.Plain(v)
	if err != nil {
		return &convert.ConversionError{Name: fd.Name, Err: err}
	}
	if p != nil {
		out[fd.Name] = p
	}
	return nil
}

// demap copies overflow properties into out. Grouped values become
// key.sub entries. Keys already written by a member are kept.
func demap(src map[string]any, prefix string, out map[string]any) {
	for key, value := range src {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			key = prefix + key
		}
		if group, ok := value.(map[string]any); ok {
			for sub, v := range group {
				k := key + graph.Separator + sub
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
			continue
		}
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
}
