package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	}
	return "unknown"
}

// Value is a tagged representation of an arbitrary JSON document.
// The zero Value is null. Values are treated as immutable once built;
// merge produces new values and may share unchanged subtrees.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	m    map[string]Value
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

func Sequence(items ...Value) Value {
	seq := make([]Value, len(items))
	copy(seq, items)
	return Value{kind: KindSequence, seq: seq}
}

func Mapping(pairs map[string]Value) Value {
	m := make(map[string]Value, len(pairs))
	for k, v := range pairs {
		m[k] = v
	}
	return Value{kind: KindMapping, m: m}
}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) IsMapping() bool  { return v.kind == KindMapping }
func (v Value) IsSequence() bool { return v.kind == KindSequence }

// IsScalar reports whether v is comparable by value for sequence
// dedup: null, bool, number, string. Sequences and mappings are
// structured and never deduped.
func (v Value) IsScalar() bool { return v.kind <= KindString }

// IsEmpty reports the merge notion of emptiness: null, empty string,
// empty collection. Numbers and booleans are never empty, so 0 and
// false do override existing values.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == ""
	case KindSequence:
		return len(v.seq) == 0
	case KindMapping:
		return len(v.m) == 0
	}
	return false
}

func (v Value) Bool() bool      { return v.b }
func (v Value) Number() float64 { return v.n }
func (v Value) Text() string    { return v.s }

// Items returns the backing sequence; callers must not mutate it.
func (v Value) Items() []Value { return v.seq }

func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.m)
	}
	return 0
}

func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	item, ok := v.m[key]
	return item, ok
}

// Keys returns mapping keys in sorted order for deterministic walks.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal is deep equality across all kinds.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// scalarKey encodes a comparable value for dedup sets.
func (v Value) scalarKey() (string, bool) {
	switch v.kind {
	case KindNull:
		return "z", true
	case KindBool:
		return "b:" + strconv.FormatBool(v.b), true
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.n, 'g', -1, 64), true
	case KindString:
		return "s:" + v.s, true
	}
	return "", false
}

// FromJSON parses raw JSON into a Value.
func FromJSON(raw []byte) (Value, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Value{}, err
	}
	return fromAny(decoded), nil
}

func fromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		seq := make([]Value, len(t))
		for i, item := range t {
			seq[i] = fromAny(item)
		}
		return Value{kind: KindSequence, seq: seq}
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = fromAny(item)
		}
		return Value{kind: KindMapping, m: m}
	}
	return Null()
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindSequence:
		return json.Marshal(v.seq)
	case KindMapping:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("marshal: unknown kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(raw []byte) error {
	parsed, err := FromJSON(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String renders compact JSON, used in diff summaries and logs.
func (v Value) String() string {
	raw, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(raw)
}
