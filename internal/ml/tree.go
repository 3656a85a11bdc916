package ml

import "fmt"

// TreeSpec is a single decision tree in flattened, pre-order form. Node 0 is the root.
// A split sends x to Left when x[Feature] <= Threshold and to Right otherwise.
type TreeSpec struct {
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
}

// NodeSpec is either a split (Leaf=false) or a leaf carrying Value.
type NodeSpec struct {
	Leaf      bool    `json:"leaf,omitempty" yaml:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Feature   int     `json:"feature,omitempty" yaml:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Left      int     `json:"left,omitempty" yaml:"left,omitempty"`
	Right     int     `json:"right,omitempty" yaml:"right,omitempty"`
}

type node struct {
	leaf      bool
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

// compileTree validates a tree against the learner arity. Children must point strictly
// forward, which rules out cycles and guarantees eval terminates.
func compileTree(spec TreeSpec, arity int) (*tree, error) {
	if len(spec.Nodes) == 0 {
		return nil, fmt.Errorf("tree has no nodes")
	}
	t := &tree{nodes: make([]node, len(spec.Nodes))}
	for i, n := range spec.Nodes {
		if n.Leaf {
			if !finite(n.Value) {
				return nil, fmt.Errorf("node %d: leaf value must be finite", i)
			}
			t.nodes[i] = node{leaf: true, value: n.Value}
			continue
		}
		if n.Feature < 0 || n.Feature >= arity {
			return nil, fmt.Errorf("node %d: feature index %d outside [0, %d)", i, n.Feature, arity)
		}
		if !finite(n.Threshold) {
			return nil, fmt.Errorf("node %d: threshold must be finite", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(spec.Nodes) {
				return nil, fmt.Errorf("node %d: child index %d out of range", i, child)
			}
		}
		t.nodes[i] = node{feature: n.Feature, threshold: n.Threshold, left: n.Left, right: n.Right}
	}
	return t, nil
}

func (t *tree) eval(x []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

func compileTrees(spec LearnerSpec) ([]*tree, error) {
	if spec.Arity <= 0 {
		return nil, fmt.Errorf("tree ensemble must declare a positive arity")
	}
	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("tree ensemble has no trees")
	}
	trees := make([]*tree, len(spec.Trees))
	for i, ts := range spec.Trees {
		t, err := compileTree(ts, spec.Arity)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = t
	}
	return trees, nil
}

// Forest is a bagged tree ensemble (random forest). Its output is the mean leaf value,
// which for a classifier exported with per-leaf class probabilities is predict_proba.
type Forest struct {
	name  string
	arity int
	trees []*tree
	link  Link
}

func newForest(spec LearnerSpec) (Learner, error) {
	trees, err := compileTrees(spec)
	if err != nil {
		return nil, err
	}
	link, err := parseLink(spec.Link)
	if err != nil {
		return nil, err
	}
	return &Forest{name: spec.Name, arity: spec.Arity, trees: trees, link: link}, nil
}

func (m *Forest) Name() string { return m.name }
func (m *Forest) Kind() string { return KindRandomForest }
func (m *Forest) Arity() int   { return m.arity }

func (m *Forest) Predict(x []float64) (float64, error) {
	if err := checkArity(m.name, m.arity, x); err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range m.trees {
		sum += t.eval(x)
	}
	return m.link.apply(sum / float64(len(m.trees))), nil
}

// Boosted is an additive gradient boosted tree ensemble (XGBoost, LightGBM). Leaf values
// are expected to already include the learning rate.
//
//	y = link(BaseScore + sum(tree_k(x)))
type Boosted struct {
	name      string
	arity     int
	baseScore float64
	trees     []*tree
	link      Link
}

func newBoosted(spec LearnerSpec) (Learner, error) {
	trees, err := compileTrees(spec)
	if err != nil {
		return nil, err
	}
	if !finite(spec.BaseScore) {
		return nil, fmt.Errorf("base score must be finite")
	}
	link, err := parseLink(spec.Link)
	if err != nil {
		return nil, err
	}
	return &Boosted{name: spec.Name, arity: spec.Arity, baseScore: spec.BaseScore, trees: trees, link: link}, nil
}

func (m *Boosted) Name() string { return m.name }
func (m *Boosted) Kind() string { return KindGradientBoosting }
func (m *Boosted) Arity() int   { return m.arity }

func (m *Boosted) Predict(x []float64) (float64, error) {
	if err := checkArity(m.name, m.arity, x); err != nil {
		return 0, err
	}
	z := m.baseScore
	for _, t := range m.trees {
		z += t.eval(x)
	}
	return m.link.apply(z), nil
}
