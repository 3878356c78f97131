// Package conversion resolves how a request's invoicing currency can be
// priced in a payable currency: it rebuilds a graph of rate-oracle edges
// from on-chain aggregator-registration events and finds a conversion path
// through it.
//
// Path search is unweighted shortest-hop breadth-first search. Fewer hops
// is preferred over better rate quality or liquidity; this is a known
// limitation accepted for simplicity and latency.
package conversion

import (
	"sort"
	"strings"

	"github.com/vitwit/reqnet/types"
)

// Graph is the derived currency-conversion graph. Nodes are lower-cased
// currency identifiers; edges are bidirectional with unit weight. The
// graph is a rebuildable cache, reconstructed wholesale from the
// aggregator event stream, never edited in place.
type Graph struct {
	// adjacency maps node -> neighbor -> aggregator address.
	adjacency map[string]map[string]string
}

// BuildGraph constructs a graph from an aggregator map
// (input -> output -> aggregator address). Each registered pair also adds
// the reverse edge. Building from the same input always yields the same
// graph.
func BuildGraph(aggregators map[string]map[string]string) *Graph {
	g := &Graph{adjacency: make(map[string]map[string]string)}
	for input, outputs := range aggregators {
		for output, aggregator := range outputs {
			g.addEdge(input, output, aggregator)
			g.addEdge(output, input, aggregator)
		}
	}
	return g
}

func (g *Graph) addEdge(from, to, aggregator string) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)
	if g.adjacency[from] == nil {
		g.adjacency[from] = make(map[string]string)
	}
	g.adjacency[from][to] = strings.ToLower(aggregator)
}

// HasNode reports whether the currency appears in the graph.
func (g *Graph) HasNode(currency string) bool {
	_, ok := g.adjacency[normalizeCurrency(currency)]
	return ok
}

// Aggregator returns the oracle address of the direct edge between two
// currencies, if one exists.
func (g *Graph) Aggregator(from, to string) (string, bool) {
	neighbors, ok := g.adjacency[normalizeCurrency(from)]
	if !ok {
		return "", false
	}
	aggregator, ok := neighbors[normalizeCurrency(to)]
	return aggregator, ok
}

// FindPath returns the shortest conversion path from one currency to
// another, including both endpoints, or a NO_PATH_FOUND error.
func (g *Graph) FindPath(from, to string) ([]string, error) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)

	if from == to {
		return []string{from}, nil
	}
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil, noPathError(from, to)
	}

	// Unweighted BFS; neighbors are visited in sorted order so the
	// chosen path is deterministic across rebuilds.
	parents := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		neighbors := make([]string, 0, len(g.adjacency[current]))
		for neighbor := range g.adjacency[current] {
			neighbors = append(neighbors, neighbor)
		}
		sort.Strings(neighbors)

		for _, neighbor := range neighbors {
			if _, seen := parents[neighbor]; seen {
				continue
			}
			parents[neighbor] = current
			if neighbor == to {
				return tracePath(parents, from, to), nil
			}
			queue = append(queue, neighbor)
		}
	}
	return nil, noPathError(from, to)
}

func tracePath(parents map[string]string, from, to string) []string {
	var reversed []string
	for node := to; node != ""; node = parents[node] {
		reversed = append(reversed, node)
	}
	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

func noPathError(from, to string) error {
	return &types.EngineError{
		Code:    types.ErrNoPathFound,
		Message: "no conversion path from " + from + " to " + to,
	}
}

// normalizeCurrency lower-cases a currency identifier so graph lookups are
// stable regardless of input casing.
func normalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
