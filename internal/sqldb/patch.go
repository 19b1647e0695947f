package sqldb

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// set renders the SET list of an UPDATE. It must be compiled before the
// WHERE clause so arguments stay in textual order.
//
// A column is assigned once: successive patches on the same column are
// nested, each applied to the result of the previous one, and a Set
// discards what came before it.
func (c *compiler) set(patches []patch.Patch) (string, error) {
	compiled, err := patch.Normalize(c.d, patches)
	if err != nil {
		return "", err
	}
	if len(compiled) == 0 {
		return "", fmt.Errorf("%w: nothing to update", types.ErrUnsupportedPatch)
	}

	var order []string
	byColumn := make(map[string][]patch.Compiled)
	for _, cp := range compiled {
		col := quote(columnName(cp.Property))
		if _, ok := byColumn[col]; !ok {
			order = append(order, col)
		}
		if _, isSet := cp.Patch.(patch.Set); isSet {
			byColumn[col] = nil
		}
		byColumn[col] = append(byColumn[col], cp)
	}

	parts := make([]string, 0, len(order))
	for _, col := range order {
		value := col
		for _, cp := range byColumn[col] {
			if value, err = c.assign(value, col, cp); err != nil {
				return "", err
			}
		}
		parts = append(parts, col+" = "+value)
	}
	return strings.Join(parts, ", "), nil
}

// assign applies one patch to prev, the column's value so far.
func (c *compiler) assign(prev, col string, cp patch.Compiled) (string, error) {
	if prev != col {
		prev = "(" + prev + ")"
	}
	switch cp.Patch.(type) {
	case patch.Set:
		v, err := c.dialect.Encode(cp.Property.Type, cp.Value)
		if err != nil {
			return "", fmt.Errorf("set %q: %w", cp.Property.Name, err)
		}
		return c.args.add(v), nil
	case patch.Increment:
		return prev + " + " + c.args.add(cp.Value), nil
	case patch.Append:
		elem, err := jsonText(cp.Value)
		if err != nil {
			return "", err
		}
		return c.dialect.AppendElement(prev, c.args.add(elem)), nil
	case patch.Remove:
		elem, err := jsonText(cp.Value)
		if err != nil {
			return "", err
		}
		return c.dialect.RemoveElement(prev, c.args.add(elem)), nil
	}
	return "", fmt.Errorf("%w: %T", types.ErrUnsupportedPatch, cp.Patch)
}
