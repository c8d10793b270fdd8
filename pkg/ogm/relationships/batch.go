package relationships

import (
	"context"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// batch collects distinct objects per descriptor in first-seen order.
type batch struct {
	order []*schema.TypeDescriptor
	objs  map[*schema.TypeDescriptor][]any
	seen  map[any]struct{}
}

func newBatch() *batch {
	return &batch{
		objs: make(map[*schema.TypeDescriptor][]any),
		seen: make(map[any]struct{}),
	}
}

// add records obj unless the same pointer was added before.
func (b *batch) add(desc *schema.TypeDescriptor, obj any) {
	if _, ok := b.seen[obj]; ok {
		return
	}
	b.seen[obj] = struct{}{}
	if _, ok := b.objs[desc]; !ok {
		b.order = append(b.order, desc)
	}
	b.objs[desc] = append(b.objs[desc], obj)
}

// save persists every group, one object with Save and more with SaveAll.
func (b *batch) save(ctx context.Context, p Persister) error {
	for _, desc := range b.order {
		objs := b.objs[desc]
		var err error
		if len(objs) == 1 {
			err = p.Save(ctx, desc, objs[0])
		} else {
			err = p.SaveAll(ctx, desc, objs)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
