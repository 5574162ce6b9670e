package cluster

import "fmt"

// Selection decides which node a call tries first. Whatever the start, the
// remaining nodes follow in ring order, so every node is tried once.
type Selection string

const (
	// SelectOrdered always starts at the first configured node.
	SelectOrdered Selection = "ordered"
	// SelectRoundRobin rotates the starting node on every call.
	SelectRoundRobin Selection = "round_robin"
	// SelectRandom starts at a random node.
	SelectRandom Selection = "random"
)

// ParseSelection converts a configuration string into a Selection.
// An empty string yields SelectOrdered.
func ParseSelection(s string) (Selection, error) {
	if s == "" {
		return SelectOrdered, nil
	}
	sel := Selection(s)
	if err := sel.Validate(); err != nil {
		return "", err
	}
	return sel, nil
}

// Validate reports whether s is a known policy.
func (s Selection) Validate() error {
	switch s {
	case SelectOrdered, SelectRoundRobin, SelectRandom:
		return nil
	default:
		return fmt.Errorf("unknown node selection policy %q (must be ordered, round_robin or random)", string(s))
	}
}

// order returns node indexes in the order a single call should try them.
func (c *Cluster) order() []int {
	n := len(c.nodes)
	start := 0
	switch c.selection {
	case SelectRoundRobin:
		start = int((c.next.Add(1) - 1) % uint64(n))
	case SelectRandom:
		start = c.intn(n)
	}

	out := make([]int, n)
	for i := range out {
		out[i] = (start + i) % n
	}
	return out
}
