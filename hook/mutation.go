// Package hook decides and dispatches the side effects of a content
// mutation: cache tags to invalidate, aggregates to recompute and
// notifications to send.
//
// Deciding is pure. Dispatching never blocks the caller beyond the
// notification enqueue timeout and never returns an error, so a failure
// here cannot roll back the write that triggered it.
package hook

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/xraph/ripple/content"
)

// Operation is the kind of write the content store committed.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpUpdateMany Operation = "updateMany"
	OpDeleteMany Operation = "deleteMany"
)

// single maps bulk operations to their per-document counterpart.
func (o Operation) single() (Operation, error) {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return o, nil
	case OpUpdateMany:
		return OpUpdate, nil
	case OpDeleteMany:
		return OpDelete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, string(o))
}

// Mutation is one committed write as reported by the content store. Bulk
// operations are reported once per document.
type Mutation struct {
	Collection string      `json:"collection"`
	Operation  Operation   `json:"operation"`
	Doc        content.Doc `json:"doc"`
	// Previous is nil on create. On delete, Doc is the removed document.
	Previous content.Doc `json:"previousDoc,omitempty"`
	// Recalculating marks aggregate write-backs.
	Recalculating bool `json:"recalculating,omitempty"`
}

// Changed returns the sorted top-level fields whose values differ
// between prev and cur. Values are normalized through JSON first so a
// float64 from the wire equals an int written in process, and nested
// objects compare structurally.
func Changed(prev, cur content.Doc) ([]string, error) {
	p, err := normalize(prev)
	if err != nil {
		return nil, fmt.Errorf("normalize previous: %w", err)
	}
	c, err := normalize(cur)
	if err != nil {
		return nil, fmt.Errorf("normalize current: %w", err)
	}

	var changed []string
	for k, v := range c {
		if old, ok := p[k]; !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range p {
		if _, ok := c[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed, nil
}

func normalize(doc content.Doc) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
