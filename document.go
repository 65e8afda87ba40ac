package mathdoc

import "sort"

// RevisionInfo describes one committed revision for history display.
type RevisionInfo struct {
	Revision   Revision
	Parent     Revision // equal to Revision for the oldest retained revision
	Name       string   // from the transaction that produced it
	HasChanges bool
	Tags       []string
}

// Document is the node arena. Every key maps to a versioned slot, and the
// tree visible to readers is the one at the current revision. Revisions form
// a tree through their Parent links; undo and redo move the current revision
// along it.
//
// Document has no locking of its own; the owning Editor serializes access.
type Document struct {
	registry *Registry

	slots     map[NodeKey]*nodeSlot
	revisions map[Revision]*RevisionInfo

	current      Revision
	base         Revision
	nextRevision Revision
	nextKey      NodeKey
}

func newDocument(reg *Registry) *Document {
	d := &Document{
		registry:     reg,
		slots:        make(map[NodeKey]*nodeSlot),
		revisions:    make(map[Revision]*RevisionInfo),
		nextRevision: 1,
		nextKey:      RootKey + 1,
	}
	d.revisions[0] = &RevisionInfo{Revision: 0, Parent: 0, Name: "initial"}
	return d
}

// Current returns the revision visible to readers.
func (d *Document) Current() Revision {
	return d.current
}

func (d *Document) mintKey() NodeKey {
	k := d.nextKey
	d.nextKey++
	return k
}

// nodeAt returns the generation of key visible at rev, or nil.
func (d *Document) nodeAt(key NodeKey, rev Revision) Node {
	s, ok := d.slots[key]
	if !ok {
		return nil
	}
	return s.stateAt(d, rev)
}

func (d *Document) node(key NodeKey) Node {
	return d.nodeAt(key, d.current)
}

// install writes generations at rev without creating revision metadata.
// Used for the initial tree.
func (d *Document) install(nodes map[NodeKey]Node, rev Revision) {
	for key, n := range nodes {
		s, ok := d.slots[key]
		if !ok {
			s = newNodeSlot(key)
			d.slots[key] = s
		}
		s.history[rev] = n
		if key >= d.nextKey {
			d.nextKey = key + 1
		}
	}
}

// commit stores a transaction's generations under a fresh revision whose
// parent is the current revision, and makes it current.
func (d *Document) commit(pending map[NodeKey]Node, name string, tags []string) Revision {
	rev := d.nextRevision
	d.nextRevision++

	d.revisions[rev] = &RevisionInfo{
		Revision:   rev,
		Parent:     d.current,
		Name:       name,
		HasChanges: true,
		Tags:       tags,
	}
	d.install(pending, rev)
	d.current = rev
	return rev
}

// seek makes rev the current revision. rev must be retained.
func (d *Document) seek(rev Revision) bool {
	if _, ok := d.revisions[rev]; !ok {
		return false
	}
	d.current = rev
	return true
}

// parentOf returns the revision rev was based on.
func (d *Document) parentOf(rev Revision) Revision {
	if info, ok := d.revisions[rev]; ok {
		return info.Parent
	}
	return rev
}

// discard drops every generation stored at the given revisions. Used when a
// new commit abandons the redo branch.
func (d *Document) discard(revs []Revision) {
	if len(revs) == 0 {
		return
	}
	drop := make(map[Revision]bool, len(revs))
	for _, r := range revs {
		drop[r] = true
		delete(d.revisions, r)
	}
	for key, s := range d.slots {
		for r := range s.history {
			if drop[r] {
				delete(s.history, r)
			}
		}
		if len(s.history) == 0 {
			delete(d.slots, key)
		}
	}
}

// squash makes newBase the oldest retained revision. The state visible at
// newBase is folded into it and everything older is dropped.
func (d *Document) squash(newBase Revision) {
	if newBase == d.base {
		return
	}
	older := make(map[Revision]bool)
	for r := d.parentOf(newBase); ; r = d.parentOf(r) {
		older[r] = true
		if d.parentOf(r) == r {
			break
		}
	}

	for key, s := range d.slots {
		st := s.stateAt(d, newBase)
		for r := range older {
			delete(s.history, r)
		}
		if st != nil {
			s.history[newBase] = st
		} else {
			delete(s.history, newBase)
		}
		if len(s.history) == 0 {
			delete(d.slots, key)
		}
	}

	for r := range older {
		delete(d.revisions, r)
	}
	d.revisions[newBase].Parent = newBase
	d.base = newBase
}

// RevisionRange returns the retained revisions on the path from the oldest
// retained revision to the current one, oldest first.
func (d *Document) revisionPath() []RevisionInfo {
	var path []RevisionInfo
	for r := d.current; ; r = d.parentOf(r) {
		if info, ok := d.revisions[r]; ok {
			path = append(path, *info)
		}
		if d.parentOf(r) == r {
			break
		}
	}
	sort.Slice(path, func(i, j int) bool { return path[i].Revision < path[j].Revision })
	return path
}

// liveCount returns the number of nodes attached at the current revision.
func (d *Document) liveCount() int {
	count := 0
	var walk func(key NodeKey)
	walk = func(key NodeKey) {
		n := d.node(key)
		if n == nil {
			return
		}
		count++
		if el, ok := n.(ElementNode); ok {
			for _, c := range el.element().children {
				walk(c)
			}
		}
	}
	walk(RootKey)
	return count
}

// slotCount returns the number of versioned slots retained in the arena.
func (d *Document) slotCount() int {
	return len(d.slots)
}
