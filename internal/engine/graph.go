package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stacksmith-io/stacksmith/internal/ir"
)

// Graph is the dependency-ordered view of one run's resource nodes.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type graphNode struct {
	addr     string
	edges    []string // addresses this node depends on
	revEdges []string // addresses that depend on this node
}

// BuildGraph constructs the dependency graph from expanded, gated resources.
// Edges come from explicit DependsOn entries and implicit ref:// references
// in inputs. A ref:// reference is required: pointing it at a node absent
// from the graph is a DanglingReferenceError, flagged as condition-excluded
// when the target appears in the excluded set. DependsOn entries are
// ordering-only and are dropped silently when their target is absent, so an
// optional dependency on a gated-out node is not an error.
//
// The emitted order is deterministic: ties are broken by declaration order,
// so repeated runs over unchanged input apply in an identical sequence.
func BuildGraph(resources []*ir.Resource, excluded map[string]bool) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*graphNode, len(resources)),
	}

	declOrder := make([]string, 0, len(resources))
	declIndex := make(map[string]int, len(resources))
	for i, res := range resources {
		addr := resourceAddr(res)
		if _, dup := g.nodes[addr]; dup {
			return nil, &DuplicateResourceKeyError{Address: addr}
		}
		g.nodes[addr] = &graphNode{addr: addr}
		declOrder = append(declOrder, addr)
		declIndex[addr] = i
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range extractRefs(res.Inputs) {
			target, _ := refTarget(ref)
			if target == "" {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return nil, &DanglingReferenceError{
					Address:  addr,
					Target:   target,
					Excluded: isExcluded(target, excluded),
				}
			}
			node.edges = append(node.edges, target)
		}

		// Deterministic edge order regardless of input map iteration.
		sort.Slice(node.edges, func(i, j int) bool {
			return declIndex[node.edges[i]] < declIndex[node.edges[j]]
		})
	}

	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort(declOrder)
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// BuildGraphFromState constructs the graph from recorded state, used for
// destroy ordering when the configuration is no longer authoritative.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*graphNode, len(resources)),
	}

	declOrder := make([]string, 0, len(resources))
	for _, res := range resources {
		addr := stateAddr(res)
		if _, dup := g.nodes[addr]; dup {
			return nil, &DuplicateResourceKeyError{Address: addr}
		}
		g.nodes[addr] = &graphNode{addr: addr}
		declOrder = append(declOrder, addr)
	}

	for _, res := range resources {
		node := g.nodes[stateAddr(res)]
		for _, dep := range res.Dependencies {
			if _, ok := g.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort(declOrder)
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of a node.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the nodes that directly depend on addr.
func (g *Graph) Dependents(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every node reachable from addr along dependency
// edges.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		node, ok := g.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// topoSort runs a depth-first traversal in declaration order, emitting each
// node after its dependencies. A node revisited while still on the recursion
// stack means a cycle, reported with the full path.
func (g *Graph) topoSort(declOrder []string) ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(g.nodes))
	sorted := make([]string, 0, len(g.nodes))

	var stack []string
	var visit func(addr string) error
	visit = func(addr string) error {
		switch color[addr] {
		case done:
			return nil
		case visiting:
			// Cut the stack down to the cycle itself.
			for i, a := range stack {
				if a == addr {
					return &CyclicDependencyError{Cycle: append(append([]string{}, stack[i:]...), addr)}
				}
			}
			return &CyclicDependencyError{Cycle: []string{addr, addr}}
		}

		color[addr] = visiting
		stack = append(stack, addr)
		for _, dep := range g.nodes[addr].edges {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[addr] = done
		sorted = append(sorted, addr)
		return nil
	}

	for _, addr := range declOrder {
		if err := visit(addr); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

// resourceAddr returns the address of a resource (type.key).
func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null.Resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Key)
}

// ResourceAddr returns the address of a resource. Exported for CLI use.
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func stateAddr(res *ir.ResourceState) string {
	return fmt.Sprintf("%s.%s", res.Type, res.Key)
}

// isExcluded reports whether target (or the for-each template it expanded
// from) was removed by a condition.
func isExcluded(target string, excluded map[string]bool) bool {
	if excluded[target] {
		return true
	}
	if i := strings.IndexByte(target, '['); i > 0 && excluded[target[:i]] {
		return true
	}
	return false
}

// extractRefs extracts all ref:// references from an input value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ref://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refTarget splits a ref:// reference into the referenced node address and
// output attribute. ref://aws.s3.Bucket/assets/arn -> ("aws.s3.Bucket.assets", "arn").
func refTarget(ref string) (addr, attr string) {
	if !strings.HasPrefix(ref, "ref://") {
		return "", ""
	}
	path := strings.TrimPrefix(ref, "ref://")
	// Format: type/key/attribute; the attribute is optional.
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return "", ""
	}
	addr = fmt.Sprintf("%s.%s", parts[0], parts[1])
	if len(parts) == 3 {
		attr = parts[2]
	}
	return addr, attr
}
