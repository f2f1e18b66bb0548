package graph

import (
	"errors"
	"slices"
)

// ErrNoPath is returned by ShortestPath when both nodes exist but are not connected.
var ErrNoPath = errors.New("graph: no path")

// Neighbors returns the edges adjacent to id that pass filter, ordered by
// edge insertion sequence.
func (s *Snapshot) Neighbors(id string, filter Filter, dir Direction) ([]Neighbor, error) {
	if _, err := s.Node(id); err != nil {
		return nil, err
	}
	return s.neighbors(id, filter, dir), nil
}

func (s *Snapshot) neighbors(id string, filter Filter, dir Direction) []Neighbor {
	a := s.index()
	var out, in []*Edge
	if dir == Out || dir == Both {
		out = a.out[id]
	}
	if dir == In || dir == Both {
		in = a.in[id]
	}

	res := make([]Neighbor, 0, len(out)+len(in))
	i, j := 0, 0
	// Merge two Seq-ordered lists.
	for i < len(out) || j < len(in) {
		var e *Edge
		forward := false
		if j >= len(in) || (i < len(out) && out[i].Seq <= in[j].Seq) {
			e, forward = out[i], true
			i++
		} else {
			e = in[j]
			j++
			if dir == Both && e.Source == e.Target {
				// Self loop already emitted from the out list.
				continue
			}
		}
		if !filter.Allows(e.Predicate) {
			continue
		}
		other := e.Target
		if !forward {
			other = e.Source
		}
		res = append(res, Neighbor{Edge: e, Node: s.nodes[other], Forward: forward})
	}
	return res
}

// Expand runs a breadth-first expansion from id over edges in both
// directions, up to maxHops. The start node is returned first with hop 0.
// Each node is visited once, at its shortest hop count; ties are broken by
// edge insertion order.
func (s *Snapshot) Expand(id string, maxHops int, filter Filter) ([]Reached, error) {
	start, err := s.Node(id)
	if err != nil {
		return nil, err
	}
	reached := []Reached{{Node: start, Hops: 0}}
	visited := map[string]bool{id: true}
	frontier := []int{0}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []int
		for _, ri := range frontier {
			from := reached[ri]
			for _, nb := range s.neighbors(from.Node.ID, filter, Both) {
				if visited[nb.Node.ID] {
					continue
				}
				visited[nb.Node.ID] = true
				path := make([]Hop, len(from.Path), len(from.Path)+1)
				copy(path, from.Path)
				path = append(path, Hop{
					From:      from.Node.ID,
					To:        nb.Node.ID,
					Predicate: nb.Edge.Predicate,
					Forward:   nb.Forward,
					EdgeSeq:   nb.Edge.Seq,
				})
				reached = append(reached, Reached{Node: nb.Node, Hops: hop, Path: path})
				next = append(next, len(reached)-1)
			}
		}
		frontier = next
	}
	return reached, nil
}

// ShortestPath returns the first shortest path from one node to another
// under edge insertion order, traversing edges in both directions.
// It returns ErrNoPath when the nodes are not connected.
func (s *Snapshot) ShortestPath(from, to string, filter Filter) ([]Hop, error) {
	if _, err := s.Node(from); err != nil {
		return nil, err
	}
	if _, err := s.Node(to); err != nil {
		return nil, err
	}
	if from == to {
		return []Hop{}, nil
	}

	prev := map[string]Hop{}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range s.neighbors(cur, filter, Both) {
			if visited[nb.Node.ID] {
				continue
			}
			visited[nb.Node.ID] = true
			prev[nb.Node.ID] = Hop{
				From:      cur,
				To:        nb.Node.ID,
				Predicate: nb.Edge.Predicate,
				Forward:   nb.Forward,
				EdgeSeq:   nb.Edge.Seq,
			}
			if nb.Node.ID == to {
				var path []Hop
				for at := to; at != from; {
					h := prev[at]
					path = append(path, h)
					at = h.From
				}
				slices.Reverse(path)
				return path, nil
			}
			queue = append(queue, nb.Node.ID)
		}
	}
	return nil, ErrNoPath
}
