package coordinator

import (
	"context"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/patch"
)

// MergePatch applies an RFC 7396 merge patch to id under the same retry
// loop as Apply. Merged objects come back with their keys sorted.
func (c *Coordinator) MergePatch(ctx context.Context, id string, body []byte, expected *int64) (*Result, error) {
	mp, err := document.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: merge patch: %v", patch.ErrMalformedPatch, err)
	}
	return c.update(ctx, id, expected, func(cur *document.Document) (*document.Document, patch.Patch, error) {
		if err := requireExisting(cur, expected); err != nil {
			return nil, nil, err
		}
		root, err := mergeRoot(cur.Root, mp, body)
		if err != nil {
			return nil, nil, err
		}
		return cur.Next(root), replaceRoot(cur.Root), nil
	}, nil)
}

func mergeRoot(target, mp *document.Node, body []byte) (*document.Node, error) {
	// A patch that is not an object replaces the target outright.
	if mp.Kind() != document.ObjectKind {
		return mp, nil
	}
	orig := []byte("{}")
	if target.Kind() == document.ObjectKind {
		var err error
		if orig, err = target.MarshalJSON(); err != nil {
			return nil, err
		}
	}
	merged, err := jsonpatch.MergePatch(orig, body)
	if err != nil {
		return nil, fmt.Errorf("%w: merge patch: %v", patch.ErrMalformedPatch, err)
	}
	return document.Parse(merged)
}
