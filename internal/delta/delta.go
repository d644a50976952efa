// Package delta implements the rich-text change format exchanged by editors.
//
// A Delta is an ordered list of insert, retain and delete runs. A document is
// a Delta made of inserts only. Lengths and offsets are counted in UTF-16
// code units, the unit browser editors use for selections.
package delta

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"unicode/utf16"
)

// Op is a single run. Exactly one of Insert/Embed, Retain or Delete is set.
type Op struct {
	Insert     string
	Embed      map[string]any
	Retain     int
	Delete     int
	Attributes map[string]any
}

// IsInsert reports whether op inserts text or an embed.
func (op Op) IsInsert() bool {
	return op.Insert != "" || op.Embed != nil
}

// Len returns the number of editor units op covers.
func (op Op) Len() int {
	switch {
	case op.Embed != nil:
		return 1
	case op.Insert != "":
		return textLen(op.Insert)
	case op.Retain > 0:
		return op.Retain
	default:
		return op.Delete
	}
}

type opJSON struct {
	Insert     json.RawMessage `json:"insert,omitempty"`
	Retain     int             `json:"retain,omitempty"`
	Delete     int             `json:"delete,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// MarshalJSON encodes op in the editor's wire shape.
func (op Op) MarshalJSON() ([]byte, error) {
	out := opJSON{Retain: op.Retain, Delete: op.Delete}
	if op.Delete == 0 {
		out.Attributes = op.Attributes
	}
	switch {
	case op.Embed != nil:
		raw, err := json.Marshal(op.Embed)
		if err != nil {
			return nil, err
		}
		out.Insert = raw
	case op.Insert != "":
		raw, err := json.Marshal(op.Insert)
		if err != nil {
			return nil, err
		}
		out.Insert = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes op from the editor's wire shape.
func (op *Op) UnmarshalJSON(data []byte) error {
	var in opJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*op = Op{Retain: in.Retain, Delete: in.Delete, Attributes: in.Attributes}
	if len(in.Insert) == 0 {
		return nil
	}
	if in.Insert[0] == '"' {
		return json.Unmarshal(in.Insert, &op.Insert)
	}
	return json.Unmarshal(in.Insert, &op.Embed)
}

// Delta is an ordered list of ops.
type Delta struct {
	Ops []Op `json:"ops"`
}

// New returns an empty delta.
func New() *Delta {
	return &Delta{Ops: []Op{}}
}

// Insert appends a text insert.
func (d *Delta) Insert(text string, attrs map[string]any) *Delta {
	if text == "" {
		return d
	}
	return d.Push(Op{Insert: text, Attributes: attrs})
}

// InsertEmbed appends an embed insert such as an image.
func (d *Delta) InsertEmbed(embed map[string]any, attrs map[string]any) *Delta {
	return d.Push(Op{Embed: embed, Attributes: attrs})
}

// Retain appends a retain run, optionally formatting it.
func (d *Delta) Retain(n int, attrs map[string]any) *Delta {
	if n <= 0 {
		return d
	}
	return d.Push(Op{Retain: n, Attributes: attrs})
}

// Delete appends a delete run.
func (d *Delta) Delete(n int) *Delta {
	if n <= 0 {
		return d
	}
	return d.Push(Op{Delete: n})
}

// Push appends op, merging it into the last op when both are the same kind
// with equal attributes.
func (d *Delta) Push(op Op) *Delta {
	if len(op.Attributes) == 0 {
		op.Attributes = nil
	}
	if n := len(d.Ops); n > 0 {
		last := &d.Ops[n-1]
		switch {
		case last.Delete > 0 && op.Delete > 0:
			last.Delete += op.Delete
			return d
		case last.Retain > 0 && op.Retain > 0 && sameAttributes(last.Attributes, op.Attributes):
			last.Retain += op.Retain
			return d
		case last.Insert != "" && op.Insert != "" && last.Embed == nil && op.Embed == nil &&
			sameAttributes(last.Attributes, op.Attributes):
			last.Insert += op.Insert
			return d
		}
	}
	d.Ops = append(d.Ops, op)
	return d
}

// Len returns the total length of all ops.
func (d *Delta) Len() int {
	n := 0
	for _, op := range d.Ops {
		n += op.Len()
	}
	return n
}

// IsDocument reports whether d contains inserts only.
func (d *Delta) IsDocument() bool {
	for _, op := range d.Ops {
		if !op.IsInsert() {
			return false
		}
	}
	return true
}

// Text returns the plain text of a document, skipping embeds.
func (d *Delta) Text() string {
	var b strings.Builder
	for _, op := range d.Ops {
		b.WriteString(op.Insert)
	}
	return b.String()
}

// Clone returns a deep-enough copy: op slices and attribute maps are not shared.
func (d *Delta) Clone() *Delta {
	out := &Delta{Ops: make([]Op, len(d.Ops))}
	for i, op := range d.Ops {
		op.Attributes = maps.Clone(op.Attributes)
		op.Embed = maps.Clone(op.Embed)
		out.Ops[i] = op
	}
	return out
}

// Equal reports whether two deltas have identical ops.
func (d *Delta) Equal(other *Delta) bool {
	if len(d.Ops) != len(other.Ops) {
		return false
	}
	for i := range d.Ops {
		a, b := d.Ops[i], other.Ops[i]
		if a.Insert != b.Insert || a.Retain != b.Retain || a.Delete != b.Delete {
			return false
		}
		if !sameAttributes(a.Attributes, b.Attributes) || !reflect.DeepEqual(a.Embed, b.Embed) {
			return false
		}
	}
	return true
}

func (d *Delta) String() string {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("delta(%d ops)", len(d.Ops))
	}
	return string(raw)
}

func sameAttributes(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// splitsSurrogate reports whether unit offset at falls between a high and
// a low surrogate of s.
func splitsSurrogate(s string, at int) bool {
	units := utf16.Encode([]rune(s))
	if at <= 0 || at >= len(units) {
		return false
	}
	u := units[at-1]
	return u >= 0xD800 && u <= 0xDBFF
}

// sliceText returns the units [from, from+n) of s.
func sliceText(s string, from, n int) string {
	units := utf16.Encode([]rune(s))
	end := from + n
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[from:end]))
}
