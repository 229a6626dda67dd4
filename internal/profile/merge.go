package profile

import (
	"fmt"
	"strings"
)

type ChangeKind uint8

const (
	ChangeSet ChangeKind = iota
	ChangeReplaced
	ChangeAppended
	ChangeDeduped
	ChangeStructural
)

func (c ChangeKind) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeReplaced:
		return "replaced"
	case ChangeAppended:
		return "appended"
	case ChangeDeduped:
		return "deduped"
	case ChangeStructural:
		return "structural"
	}
	return "unknown"
}

// Change records one effective modification during a merge, keyed by
// the dot path of the affected node.
type Change struct {
	Path   string
	Kind   ChangeKind
	Detail string
}

// Merge combines upd into old without destroying history:
// mapping+mapping recurse, sequence+sequence union (scalar elements
// dedup by value, structured elements append), scalar+scalar override
// only when the new value is non-empty, type mismatch lets the new
// value win and is flagged structural. Empty new values never erase
// and never create keys.
func Merge(old, upd Value) (Value, []Change) {
	var changes []Change
	merged := mergeValue("", old, upd, &changes)
	return merged, changes
}

func mergeValue(path string, old, upd Value, changes *[]Change) Value {
	if upd.IsEmpty() {
		return old
	}
	if old.IsNull() {
		*changes = append(*changes, Change{Path: path, Kind: ChangeSet})
		return upd
	}

	switch {
	case old.IsMapping() && upd.IsMapping():
		return mergeMapping(path, old, upd, changes)
	case old.IsSequence() && upd.IsSequence():
		return mergeSequence(path, old, upd, changes)
	case old.IsScalar() && upd.IsScalar():
		if old.Equal(upd) {
			return old
		}
		*changes = append(*changes, Change{Path: path, Kind: ChangeReplaced})
		return upd
	}

	// container/scalar or sequence/mapping mismatch: new wins, logged
	*changes = append(*changes, Change{
		Path:   path,
		Kind:   ChangeStructural,
		Detail: fmt.Sprintf("%s -> %s", old.Kind(), upd.Kind()),
	})
	return upd
}

func mergeMapping(path string, old, upd Value, changes *[]Change) Value {
	out := make(map[string]Value, len(old.m)+len(upd.m))
	for k, v := range old.m {
		out[k] = v
	}
	for _, k := range upd.Keys() {
		nv := upd.m[k]
		if nv.IsEmpty() {
			continue
		}
		childPath := joinPath(path, k)
		ov, ok := out[k]
		if !ok {
			out[k] = nv
			*changes = append(*changes, Change{Path: childPath, Kind: ChangeSet})
			continue
		}
		out[k] = mergeValue(childPath, ov, nv, changes)
	}
	return Value{kind: KindMapping, m: out}
}

func mergeSequence(path string, old, upd Value, changes *[]Change) Value {
	seen := make(map[string]struct{}, len(old.seq))
	out := make([]Value, 0, len(old.seq)+len(upd.seq))

	// old elements first; scalar duplicates already present collapse,
	// structured elements are kept verbatim
	for _, item := range old.seq {
		if key, ok := item.scalarKey(); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
	}

	added := 0
	for _, item := range upd.seq {
		if key, ok := item.scalarKey(); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
		added++
	}

	switch {
	case added > 0:
		*changes = append(*changes, Change{Path: path, Kind: ChangeAppended, Detail: fmt.Sprintf("+%d", added)})
	case len(out) != len(old.seq):
		*changes = append(*changes, Change{Path: path, Kind: ChangeDeduped})
	}
	return Value{kind: KindSequence, seq: out}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Summarize flattens changes into a VersionNote diff summary plus the
// list of structural changes.
func Summarize(changes []Change) (string, []string) {
	if len(changes) == 0 {
		return "no effective changes", nil
	}
	parts := make([]string, 0, len(changes))
	var structural []string
	for _, c := range changes {
		s := c.Path + " " + c.Kind.String()
		if c.Detail != "" {
			s += " " + c.Detail
		}
		parts = append(parts, s)
		if c.Kind == ChangeStructural {
			structural = append(structural, s)
		}
	}
	return strings.Join(parts, "; "), structural
}
