package consensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xlab/treeprint"

	"github.com/alpenlabs/strata-sub002/types"
)

type blockEntry struct {
	parent   types.L2BlockId
	children []types.L2BlockId
}

// UnfinalizedBlockTracker holds the DAG of blocks above the finalized
// tip. Entries are kept in a map keyed by block id with parent/child
// links stored as ids, so the map is the sole owner and there are no
// reference cycles. The finalized tip itself has an entry (with a
// meaningless parent) so it can anchor new children.
//
// All operations take the single lock; UpdateFinalizedTip does its
// entire walk-and-evict under the write lock so no reader ever sees a
// half-evicted tree.
type UnfinalizedBlockTracker struct {
	mu           sync.RWMutex
	finalizedTip types.L2BlockId
	pending      map[types.L2BlockId]*blockEntry
}

// FinalizedReport describes one finalization step: the path that became
// final (root to tip order) and every block evicted because it branched
// off that path.
type FinalizedReport struct {
	PrevTip   types.L2BlockId   `json:"prev_tip"`
	Finalized []types.L2BlockId `json:"finalized"`
	Rejected  []types.L2BlockId `json:"rejected"`
}

func NewUnfinalizedBlockTracker(finalizedTip types.L2BlockId) *UnfinalizedBlockTracker {
	return &UnfinalizedBlockTracker{
		finalizedTip: finalizedTip,
		pending: map[types.L2BlockId]*blockEntry{
			finalizedTip: {},
		},
	}
}

func (t *UnfinalizedBlockTracker) FinalizedTip() types.L2BlockId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalizedTip
}

func (t *UnfinalizedBlockTracker) ContainsBlock(id types.L2BlockId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pending[id]
	return ok
}

func (t *UnfinalizedBlockTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// AttachBlock inserts a block whose parent is already tracked.
func (t *UnfinalizedBlockTracker) AttachBlock(id types.L2BlockId, header *types.L2BlockHeader) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return &BlockAlreadyAttachedError{Blkid: id}
	}
	parent, ok := t.pending[header.PrevBlock]
	if !ok {
		return &AttachMissingParentError{Blkid: id, Parent: header.PrevBlock}
	}
	t.pending[id] = &blockEntry{parent: header.PrevBlock}
	parent.children = append(parent.children, id)
	return nil
}

// SanityCheckParentSeq reports whether id has an unbroken parent path
// down to the finalized tip.
func (t *UnfinalizedBlockTracker) SanityCheckParentSeq(id types.L2BlockId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathToTipLocked(id) != nil
}

// pathToTipLocked returns the ids from the finalized tip (exclusive) to
// id (inclusive), or nil if id does not reach the tip.
func (t *UnfinalizedBlockTracker) pathToTipLocked(id types.L2BlockId) []types.L2BlockId {
	if id == t.finalizedTip {
		return []types.L2BlockId{}
	}
	var rev []types.L2BlockId
	cur := id
	for cur != t.finalizedTip {
		entry, ok := t.pending[cur]
		if !ok {
			return nil
		}
		rev = append(rev, cur)
		cur = entry.parent
	}
	path := make([]types.L2BlockId, len(rev))
	for i, b := range rev {
		path[len(rev)-1-i] = b
	}
	return path
}

// UpdateFinalizedTip finalizes newTip: the path from the old tip to
// newTip leaves the pending set, and every subtree branching off that
// path is evicted. Atomic; on error nothing changes.
func (t *UnfinalizedBlockTracker) UpdateFinalizedTip(newTip types.L2BlockId) (*FinalizedReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if newTip == t.finalizedTip {
		return &FinalizedReport{PrevTip: newTip}, nil
	}
	path := t.pathToTipLocked(newTip)
	if path == nil {
		return nil, &MissingBlockError{Blkid: newTip}
	}

	// walk the finalized path (old tip included) collecting the child
	// branches that are not the path itself
	onPath := make(map[types.L2BlockId]bool, len(path)+1)
	onPath[t.finalizedTip] = true
	for _, id := range path {
		onPath[id] = true
	}
	var evictRoots []types.L2BlockId
	for _, id := range append([]types.L2BlockId{t.finalizedTip}, path[:len(path)-1]...) {
		for _, child := range t.pending[id].children {
			if !onPath[child] {
				evictRoots = append(evictRoots, child)
			}
		}
	}

	// breadth-first expansion of the eviction roots to all descendants
	rejected := make([]types.L2BlockId, 0, len(evictRoots))
	queue := evictRoots
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		entry, ok := t.pending[id]
		if !ok {
			// children always reference live entries
			panic(fmt.Sprintf("consensus: dangling child ref %s in tracker", id))
		}
		rejected = append(rejected, id)
		queue = append(queue, entry.children...)
	}

	for _, id := range rejected {
		delete(t.pending, id)
	}
	// the old tip and intermediate path nodes are now implicitly final
	delete(t.pending, t.finalizedTip)
	for _, id := range path[:len(path)-1] {
		delete(t.pending, id)
	}

	report := &FinalizedReport{
		PrevTip:   t.finalizedTip,
		Finalized: path,
		Rejected:  rejected,
	}
	t.finalizedTip = newTip
	t.pending[newTip].parent = types.L2BlockId{}
	return report, nil
}

// ChainTipsIter returns every block with no children, sorted for
// deterministic output. These are the fork-choice candidates.
func (t *UnfinalizedBlockTracker) ChainTipsIter() []types.L2BlockId {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var tips []types.L2BlockId
	for id, entry := range t.pending {
		if len(entry.children) == 0 {
			tips = append(tips, id)
		}
	}
	sort.Slice(tips, func(i, j int) bool {
		return tips[i].String() < tips[j].String()
	})
	return tips
}

// Snapshot returns the finalized tip and a child-to-parent edge map,
// for rendering.
func (t *UnfinalizedBlockTracker) Snapshot() (types.L2BlockId, map[types.L2BlockId]types.L2BlockId) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	edges := make(map[types.L2BlockId]types.L2BlockId, len(t.pending)-1)
	for id, entry := range t.pending {
		if id != t.finalizedTip {
			edges[id] = entry.parent
		}
	}
	return t.finalizedTip, edges
}

// Render draws the pending tree rooted at the finalized tip.
func (t *UnfinalizedBlockTracker) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (finalized)", t.finalizedTip.String_short()))
	t.renderLocked(t.finalizedTip, tree)
	return tree.String()
}

func (t *UnfinalizedBlockTracker) renderLocked(id types.L2BlockId, tree treeprint.Tree) {
	for _, child := range t.pending[id].children {
		branch := tree.AddBranch(child.String_short())
		t.renderLocked(child, branch)
	}
}
