package dataset

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

func newID() string { return uuid.NewString() }

// Transform derives a new signal from an existing one.
type Transform func(*Signal) (*Signal, error)

// TreeNode is one signal in the derivation tree along with the children
// derived from it.
type TreeNode struct {
	Signal         *Signal
	Transformation string
	Children       map[string]*TreeNode
}

// SignalTree tracks a root signal and the signals derived from it by
// transformations, plus the navigator signals used to drive selection.
// Toggling between nodes lets a display surface show the data at any
// derivation step.
type SignalTree struct {
	Root       *TreeNode
	navigators map[string]*Signal
	logger     *log.Logger
}

// NewSignalTree builds a tree rooted at root. Logger may be nil.
func NewSignalTree(root *Signal, logger *log.Logger) *SignalTree {
	if logger == nil {
		logger = log.Default()
	}
	return &SignalTree{
		Root: &TreeNode{
			Signal:   root,
			Children: map[string]*TreeNode{},
		},
		navigators: map[string]*Signal{},
		logger:     logger,
	}
}

// Signals returns every signal in the tree, root first.
func (t *SignalTree) Signals() []*Signal {
	var out []*Signal
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		out = append(out, n.Signal)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// GetNode returns the tree node holding sig, or nil.
func (t *SignalTree) GetNode(sig *Signal) *TreeNode {
	var found *TreeNode
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if found != nil {
			return
		}
		if n.Signal == sig {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return found
}

// AddTransformation applies fn to parent and records the result as a child
// node. Name collisions get a numeric suffix, matching how repeated
// applications of one transformation are kept apart.
func (t *SignalTree) AddTransformation(parent *Signal, name string, fn Transform) (*Signal, error) {
	node := t.GetNode(parent)
	if node == nil {
		return nil, fmt.Errorf("dataset: parent signal %q not in tree", parent.Name)
	}
	derived, err := fn(parent)
	if err != nil {
		return nil, fmt.Errorf("dataset: transformation %q: %w", name, err)
	}
	nodeName := name
	for i := 1; ; i++ {
		if _, taken := node.Children[nodeName]; !taken {
			break
		}
		nodeName = fmt.Sprintf("%s_%d", name, i)
	}
	node.Children[nodeName] = &TreeNode{
		Signal:         derived,
		Transformation: nodeName,
		Children:       map[string]*TreeNode{},
	}
	t.logger.Printf("signal tree: added transformation %q under %q", nodeName, parent.Name)
	return derived, nil
}

// AddNavigatorSignal registers a named navigator. Its total shape must equal
// the root's navigation shape.
func (t *SignalTree) AddNavigatorSignal(name string, sig *Signal) error {
	total := append(sig.NavShape(), sig.SigShape()...)
	rootNav := t.Root.Signal.NavShape()
	if len(total) != len(rootNav) {
		return fmt.Errorf("dataset: navigator %q shape %v does not match root navigation shape %v",
			name, total, rootNav)
	}
	for i := range total {
		if total[i] != rootNav[i] {
			return fmt.Errorf("dataset: navigator %q shape %v does not match root navigation shape %v",
				name, total, rootNav)
		}
	}
	t.navigators[name] = sig
	return nil
}

// NavigatorSignal returns the named navigator, or nil.
func (t *SignalTree) NavigatorSignal(name string) *Signal {
	return t.navigators[name]
}

// NavDim returns the number of navigation dimensions of the root signal.
func (t *SignalTree) NavDim() int { return len(t.Root.Signal.NavShape()) }

// DeriveNavigator computes a navigation-shaped overview by summing each
// slice over the signal axes, registers it under "base", and returns it.
// Lazy roots are walked frame by frame, so this runs eagerly and can be slow
// on large datasets.
func (t *SignalTree) DeriveNavigator() (*Signal, error) {
	root := t.Root.Signal
	navShape := root.NavShape()
	if len(navShape) == 0 {
		return nil, fmt.Errorf("dataset: root signal %q has no navigation axes", root.Name)
	}
	out := ndarray.New(navShape...)
	idx := make([]int, len(navShape))
	for flat := 0; flat < out.Size(); flat++ {
		unflattenIndex(flat, navShape, idx)
		var frame *ndarray.Array
		var err error
		if root.IsLazy() {
			frame, err = root.source.ReadSlice(idx)
		} else {
			frame, err = root.data.SubSlice(idx...)
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: deriving navigator at %v: %w", idx, err)
		}
		sum := 0.0
		for _, v := range frame.Data {
			sum += v
		}
		out.Data[flat] = sum
	}
	nav, err := NewSignal(SignalConfig{
		Name:     root.Name + "_navigator",
		SigShape: navShape,
		Data:     out,
		Logger:   t.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := t.AddNavigatorSignal("base", nav); err != nil {
		return nil, err
	}
	return nav, nil
}

// unflattenIndex writes the multi-index for flat (row-major, shape dims) into dst.
func unflattenIndex(flat int, shape []int, dst []int) {
	for d := len(shape) - 1; d >= 0; d-- {
		dst[d] = flat % shape[d]
		flat /= shape[d]
	}
}
