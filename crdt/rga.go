package crdt

import (
	"sort"

	"github.com/meshdoc/core"
)

// rgaID identifies an RGA node by the (origin-timestamp, origin-author)
// pair assigned at insertion time, per spec.md §4.1: "preserve all
// insertions ordered by (origin-timestamp, origin-author-id) with
// inserter-id as final tiebreak". The pair is globally unique because a
// HybridTimestamp is unique per author.
type rgaID struct {
	OriginTS     core.HybridTimestamp
	OriginAuthor string
}

func (a rgaID) less(b rgaID) bool {
	if c := a.OriginTS.Compare(b.OriginTS); c != 0 {
		return c < 0
	}
	return a.OriginAuthor < b.OriginAuthor
}

func (a rgaID) equal(b rgaID) bool {
	return a.OriginTS.Compare(b.OriginTS) == 0 && a.OriginAuthor == b.OriginAuthor
}

// RgaNode is one element of an RGA sequence.
type RgaNode struct {
	ID          rgaID
	InserterID  string
	Value       []byte
	Tombstone   bool
}

// sortKey orders nodes by (origin-timestamp, origin-author, inserter-id),
// the total order spec.md §4.1 requires so concurrent inserts at the same
// logical position converge to the same sequence on every replica.
func (n RgaNode) sortKey() (core.HybridTimestamp, string, string) {
	return n.ID.OriginTS, n.ID.OriginAuthor, n.InserterID
}

// RgaSequence is a leaf-level ordered sequence CRDT (adapted from
// other_examples' linked-list + registry RGA shape, generalized from a
// single-replica rune sequence to a byte-blob value sequence suitable for
// an Entity's merged value; deletions leave tombstones rather than
// physically removing nodes, matching spec.md's "deletions leave
// tombstones until TTL").
type RgaSequence struct {
	nodes   []RgaNode
	pending map[rgaID][]RgaNode // buffered nodes not yet causally ready (unused in the flat merge below; kept for append-only causal buffering at higher layers)
}

func NewRgaSequence() *RgaSequence {
	return &RgaSequence{pending: make(map[rgaID][]RgaNode)}
}

// Insert adds a new node, authored locally, at its sorted position.
func (s *RgaSequence) Insert(originTS core.HybridTimestamp, originAuthor, inserterID string, value []byte) {
	s.insertNode(RgaNode{
		ID:         rgaID{OriginTS: originTS, OriginAuthor: originAuthor},
		InserterID: inserterID,
		Value:      value,
	})
}

func (s *RgaSequence) insertNode(n RgaNode) {
	for _, existing := range s.nodes {
		if existing.ID.equal(n.ID) {
			return // already present, idempotent insert
		}
	}
	s.nodes = append(s.nodes, n)
	s.resort()
}

func (s *RgaSequence) resort() {
	sort.SliceStable(s.nodes, func(i, j int) bool {
		ti, ai, ii := s.nodes[i].sortKey()
		tj, aj, ij := s.nodes[j].sortKey()
		if c := ti.Compare(tj); c != 0 {
			return c < 0
		}
		if ai != aj {
			return ai < aj
		}
		return ii < ij
	})
}

// Delete tombstones the node with the given id, if present.
func (s *RgaSequence) Delete(originTS core.HybridTimestamp, originAuthor string) {
	id := rgaID{OriginTS: originTS, OriginAuthor: originAuthor}
	for i := range s.nodes {
		if s.nodes[i].ID.equal(id) {
			s.nodes[i].Tombstone = true
			return
		}
	}
}

// Elements returns the visible (non-tombstoned) byte values in sequence
// order, one slice element per node.
func (s *RgaSequence) Elements() [][]byte {
	out := make([][]byte, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !n.Tombstone {
			out = append(out, n.Value)
		}
	}
	return out
}

// Nodes returns every node including tombstones, for merge/serialization.
func (s *RgaSequence) Nodes() []RgaNode {
	return append([]RgaNode(nil), s.nodes...)
}

// MergeRGA merges two RGA sequences: the union of nodes by id, keeping
// tombstone status if either side tombstoned a node (delete-wins over a
// concurrent re-observation of the same insert, since inserts are
// idempotent and a delete is never reordered before its insert).
func MergeRGA(local, remote *RgaSequence) *RgaSequence {
	out := NewRgaSequence()
	byID := make(map[rgaID]RgaNode, len(local.nodes)+len(remote.nodes))
	order := make([]rgaID, 0, len(local.nodes)+len(remote.nodes))
	merge := func(n RgaNode) {
		if existing, ok := byID[n.ID]; ok {
			if n.Tombstone {
				existing.Tombstone = true
				byID[n.ID] = existing
			}
			return
		}
		byID[n.ID] = n
		order = append(order, n.ID)
	}
	for _, n := range local.nodes {
		merge(n)
	}
	for _, n := range remote.nodes {
		merge(n)
	}
	out.nodes = make([]RgaNode, 0, len(order))
	for _, id := range order {
		out.nodes = append(out.nodes, byID[id])
	}
	out.resort()
	return out
}
