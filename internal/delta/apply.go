package delta

import (
	"errors"
	"fmt"
	"maps"
	"math"
)

var (
	ErrNotDocument = errors.New("delta: base is not a document")
	ErrOutOfRange  = errors.New("delta: op reaches past end of document")
	ErrEmptyOp     = errors.New("delta: op has no insert, retain or delete")
	// ErrSplitSurrogate is returned when a retain or delete ends between
	// the two UTF-16 units of one character.
	ErrSplitSurrogate = errors.New("delta: op boundary splits a surrogate pair")
)

// Blank is the model of a freshly initialised editor: a single newline.
func Blank() *Delta {
	return New().Insert("\n", nil)
}

// IsBlank reports whether doc is an effectively empty editor model.
func IsBlank(doc *Delta) bool {
	return doc == nil || doc.Len() <= 1
}

// Apply returns the document obtained by applying change to doc.
// doc is not modified. Retains and deletes past the end of doc fail.
func Apply(doc, change *Delta) (*Delta, error) {
	if !doc.IsDocument() {
		return nil, ErrNotDocument
	}
	out := New()
	it := &iterator{ops: doc.Ops}
	for i, op := range change.Ops {
		switch {
		case op.IsInsert():
			out.Push(Op{Insert: op.Insert, Embed: maps.Clone(op.Embed), Attributes: maps.Clone(op.Attributes)})
		case op.Retain > 0:
			for n := op.Retain; n > 0; {
				if !it.hasNext() {
					return nil, fmt.Errorf("op %d retain %d: %w", i, op.Retain, ErrOutOfRange)
				}
				piece, err := it.next(n)
				if err != nil {
					return nil, fmt.Errorf("op %d retain %d: %w", i, op.Retain, err)
				}
				n -= piece.Len()
				piece.Attributes = composeAttributes(piece.Attributes, op.Attributes)
				out.Push(piece)
			}
		case op.Delete > 0:
			for n := op.Delete; n > 0; {
				if !it.hasNext() {
					return nil, fmt.Errorf("op %d delete %d: %w", i, op.Delete, ErrOutOfRange)
				}
				piece, err := it.next(n)
				if err != nil {
					return nil, fmt.Errorf("op %d delete %d: %w", i, op.Delete, err)
				}
				n -= piece.Len()
			}
		default:
			return nil, fmt.Errorf("op %d: %w", i, ErrEmptyOp)
		}
	}
	for it.hasNext() {
		piece, _ := it.next(math.MaxInt)
		out.Push(piece)
	}
	return out, nil
}

// composeAttributes layers b over a; nil values in b remove keys.
func composeAttributes(a, b map[string]any) map[string]any {
	if len(b) == 0 {
		return maps.Clone(a)
	}
	out := maps.Clone(a)
	if out == nil {
		out = make(map[string]any, len(b))
	}
	for k, v := range b {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// iterator walks the ops of a document, splitting text runs on demand.
type iterator struct {
	ops    []Op
	index  int
	offset int
}

func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

// next consumes up to n units from the current op. A piece may not end
// inside a surrogate pair; consuming the rest of an op never does.
func (it *iterator) next(n int) (Op, error) {
	op := it.ops[it.index]
	remaining := op.Len() - it.offset
	if n >= remaining {
		n = remaining
	} else if op.Embed == nil && splitsSurrogate(op.Insert, it.offset+n) {
		return Op{}, ErrSplitSurrogate
	}
	piece := Op{Attributes: maps.Clone(op.Attributes)}
	if op.Embed != nil {
		piece.Embed = maps.Clone(op.Embed)
	} else {
		piece.Insert = sliceText(op.Insert, it.offset, n)
	}
	it.offset += n
	if it.offset >= op.Len() {
		it.index++
		it.offset = 0
	}
	return piece, nil
}
