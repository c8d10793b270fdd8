package hooks

import (
	"context"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// Context is passed to every hook. It carries the descriptor of the object
// and, for synchronous hooks, the transaction of the operation.
type Context struct {
	context.Context
	desc *schema.TypeDescriptor
}

// NewContext creates a new hook context
func NewContext(ctx context.Context, desc *schema.TypeDescriptor) *Context {
	return &Context{Context: ctx, desc: desc}
}

// Descriptor returns the descriptor of the object the hook runs for.
func (c *Context) Descriptor() *schema.TypeDescriptor {
	return c.desc
}

// Transaction returns the transaction of the operation. Statements run
// through it join the operation.
func (c *Context) Transaction() (*transaction.Transaction, bool) {
	return transaction.FromContext(c.Context)
}

// HasTransaction returns true if a transaction is active
func (c *Context) HasTransaction() bool {
	tx, ok := c.Transaction()
	return ok && !tx.Closed()
}
