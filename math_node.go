package mathdoc

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const mathNodeVersion = 1

// MathNode is an editable TeX expression. Inline nodes sit in a paragraph;
// block nodes sit beside paragraphs. The inline flag is fixed when the node
// is created; only the equation changes afterwards, through Txn.SetEquation.
type MathNode struct {
	nodeBase
	equation string
	inline   bool
}

func (n *MathNode) Type() NodeType { return TypeMath }
func (n *MathNode) copyNode() Node {
	cp := *n
	return &cp
}

// Equation returns the TeX source.
func (n *MathNode) Equation() string { return n.equation }

// Inline reports whether the node renders inline.
func (n *MathNode) Inline() bool { return n.inline }

// DisplayMode reports whether the typesetter should use display style.
func (n *MathNode) DisplayMode() bool { return !n.inline }

func registerMath(r *Registry) {
	register(r, typedContract[*MathNode]{
		Type:    TypeMath,
		Version: mathNodeVersion,
		New: func(key NodeKey) *MathNode {
			return &MathNode{nodeBase: nodeBase{key: key}}
		},
		CreateDOM: func(n *MathNode) *html.Node {
			tag := "div"
			if n.inline {
				tag = "span"
			}
			return newElement(tag, "class", "math-node", "data-lexical-decorator", "true")
		},
		UpdateDOM: func(prev, next *MathNode) bool {
			return prev.inline != next.inline
		},
		Encode: func(n *MathNode, f Fragment) {
			f["equation"] = n.equation
			f["inline"] = n.inline
		},
		Decode: func(f RawFragment, n *MathNode) error {
			if _, ok := f["equation"]; !ok {
				return fmt.Errorf("%w: math node without equation", ErrInvalidSnapshot)
			}
			if err := f.Field("equation", &n.equation); err != nil {
				return err
			}
			return f.Field("inline", &n.inline)
		},
	})
}

// IsMathNode reports whether n is a math node.
func IsMathNode(n Node) bool {
	_, ok := n.(*MathNode)
	return ok
}

// CreateMath constructs a detached math node through the registry.
// It must be attached before the transaction commits. The equation may be
// empty but must be valid UTF-8 so that it survives a snapshot round trip.
func (tx *Txn) CreateMath(equation string, inline bool) (*MathNode, error) {
	if !utf8.ValidString(equation) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEquation, equation)
	}
	n, err := tx.create(TypeMath)
	if err != nil {
		return nil, err
	}
	m := n.(*MathNode)
	m.equation = equation
	m.inline = inline
	return m, nil
}

// SetEquation writes a new equation into the math node identified by key.
// The node is copied into this transaction's generation; readers of the
// committed tree keep seeing the old value until commit.
func (tx *Txn) SetEquation(key NodeKey, equation string) error {
	if !utf8.ValidString(equation) {
		return fmt.Errorf("%w: %q", ErrInvalidEquation, equation)
	}
	w, err := tx.writable(key)
	if err != nil {
		return err
	}
	m, ok := w.(*MathNode)
	if !ok {
		return fmt.Errorf("%w: %s is not math", ErrWrongNodeType, w.Type())
	}
	m.equation = equation
	return nil
}
