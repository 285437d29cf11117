// Package flatten turns a record's element tree into a flat fact base addressed by tag path.
//
// A top-level element is addressed as <(gggg,eeee)>. An element inside item n of a repeating group
// is addressed as <parent path>[<nnnn>]<(gggg,eeee)>, so nesting composes to any depth. Private
// elements are addressed by their creator rather than by the slot the creator happened to reserve
// in a given file: (0019,1092) under creator "SIEMENS CT VA0  COAD" becomes
// <(0019,"SIEMENS CT VA0  COAD",92)>.
package flatten

import (
	"fmt"
	"strings"

	"github.com/macadamian/deidaudit"
)

// Facts maps tag paths to bracketed values.
type Facts map[string]string

// Lookup returns the value at the tag path and whether the tag was present.
func (f Facts) Lookup(path string) (string, bool) {
	v, ok := f[path]
	return v, ok
}

// Flatten computes the fact base of a record's top-level elements.
func Flatten(elements []*deidaudit.Element) Facts {
	return flattenLevel(elements, "")
}

// flattenLevel flattens the elements of one data set level (the record itself or one item of a
// repeating group). prefix is empty at the top level and "<parent>[<nnnn>]" below it.
func flattenLevel(elements []*deidaudit.Element, prefix string) Facts {
	facts := make(Facts, len(elements))
	creators := privateCreators(elements)

	for _, e := range elements {
		path := prefix + "<" + tagID(e, creators) + ">"
		facts[path] = value(e)

		if !e.IsSequence() {
			continue
		}
		for i, item := range e.Items {
			for k, v := range flattenLevel(item, path+ItemSegment(i)) {
				facts[k] = v
			}
		}
	}

	return facts
}

// ItemSegment is the path segment selecting item i of a repeating group.
func ItemSegment(i int) string {
	return fmt.Sprintf("[<%04d>]", i)
}

type creatorKey struct {
	group uint16
	block uint16
}

// privateCreators maps the private blocks reserved at one level to their creator names.
func privateCreators(elements []*deidaudit.Element) map[creatorKey]string {
	creators := map[creatorKey]string{}
	for _, e := range elements {
		if !e.IsPrivateCreator() || len(e.Values) == 0 {
			continue
		}
		name := strings.TrimSpace(e.Values[0])
		if name == "" {
			continue
		}
		creators[creatorKey{group: e.Tag.Group, block: e.Tag.Element}] = name
	}
	return creators
}

// tagID renders the identifier of an element within its level. Private elements whose block has
// no creator at this level keep their raw tag.
func tagID(e *deidaudit.Element, creators map[creatorKey]string) string {
	if e.IsPrivate() && !e.IsPrivateCreator() && e.Tag.Element >= 0x1000 {
		key := creatorKey{group: e.Tag.Group, block: e.Tag.Element >> 8}
		if name, ok := creators[key]; ok {
			return PrivateTagID(e.Tag.Group, name, uint8(e.Tag.Element&0x00ff))
		}
	}
	return StandardTagID(e.Tag.Group, e.Tag.Element)
}

// StandardTagID renders "(gggg,eeee)" in lowercase hex.
func StandardTagID(group, element uint16) string {
	return fmt.Sprintf("(%04x,%04x)", group, element)
}

// PrivateTagID renders the creator-qualified identifier of a private element.
func PrivateTagID(group uint16, creator string, offset uint8) string {
	return fmt.Sprintf(`(%04x,"%s",%02x)`, group, strings.ToUpper(creator), offset)
}

func value(e *deidaudit.Element) string {
	if e.IsBulk() {
		return deidaudit.ElidedValue
	}

	var parts []string
	if e.IsSequence() {
		parts = leafValues(e.Items)
	} else {
		parts = e.Values
	}

	v := strings.TrimSpace(strings.Join(parts, `\`))
	if v == "" {
		return deidaudit.EmptyValue
	}
	return deidaudit.Wrap(v)
}

// leafValues collects the values of every non-bulk leaf below a repeating group, in item order.
func leafValues(items [][]*deidaudit.Element) []string {
	var out []string
	for _, item := range items {
		for _, e := range item {
			switch {
			case e.IsBulk():
			case e.IsSequence():
				out = append(out, leafValues(e.Items)...)
			default:
				for _, v := range e.Values {
					if v != "" {
						out = append(out, v)
					}
				}
			}
		}
	}
	return out
}
