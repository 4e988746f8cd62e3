// Package stats aggregates per-method call counts and times from
// trampoline hooks and renders them as text reports or pprof profiles.
package stats

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
)

type entry struct {
	id    int
	token metadata.Token
}

// callNode is one call path. Its counters are inclusive: they cover the
// time spent in the method and in everything it called.
type callNode struct {
	id     int
	parent *callNode
	calls  atomic.Int64
	ticks  atomic.Int64

	mu       sync.RWMutex
	children map[int]*callNode
}

func (n *callNode) child(id int) *callNode {
	n.mu.RLock()
	child, found := n.children[id]
	n.mu.RUnlock()
	if found {
		return child
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if child, found = n.children[id]; found {
		return child
	}
	if n.children == nil {
		n.children = make(map[int]*callNode)
	}
	child = &callNode{id: id, parent: n}
	n.children[id] = child
	return child
}

// kids returns the children ordered by method id.
func (n *callNode) kids() []*callNode {
	n.mu.RLock()
	kids := make([]*callNode, 0, len(n.children))
	for _, child := range n.children {
		kids = append(kids, child)
	}
	n.mu.RUnlock()
	slices.SortFunc(kids, func(a, b *callNode) int { return cmp.Compare(a.id, b.id) })
	return kids
}

func (n *callNode) clear() {
	n.calls.Store(0)
	n.ticks.Store(0)
	for _, child := range n.kids() {
		child.clear()
	}
}

// mergeInto adds the counters of every path below n to the same path
// below dst.
func (n *callNode) mergeInto(dst *callNode) {
	for _, child := range n.kids() {
		target := dst.child(child.id)
		target.calls.Add(child.calls.Load())
		target.ticks.Add(child.ticks.Load())
		child.mergeInto(target)
	}
}

// capture is a private tree a goroutine records into between
// BeginCapture and EndCapture.
type capture struct {
	root    *callNode
	base    *callNode // base of the cursor when the capture began
	resume  *callNode // current node of the cursor when the capture began
	started clock.Ticks
}

// cursor is the position of one goroutine in a call tree. Only the owning
// goroutine touches it.
type cursor struct {
	base     *callNode
	current  *callNode
	captures []capture
}

func (c *cursor) idle() bool {
	return c.current == c.base && len(c.captures) == 0
}

// Collector is a trampoline.Hooks that builds a call tree: one node per
// call path, each holding the calls and inclusive time of that path. Each
// goroutine walks the tree on its own, so nested calls are attributed to
// their callers. Methods get dense ids, starting at 1, in the order they
// are first seen or registered.
type Collector struct {
	provider metadata.Provider

	mu      sync.Mutex // serializes writers of byToken
	byToken atomic.Pointer[map[metadata.Token]*entry]
	byID    []*entry

	root    *callNode
	cursors sync.Map // goroutine id -> *cursor
	started atomic.Int64
}

// NewCollector returns an empty collector. provider, if not nil, is used to
// name methods in reports.
func NewCollector(provider metadata.Provider) *Collector {
	c := &Collector{provider: provider, root: &callNode{}}
	empty := make(map[metadata.Token]*entry)
	c.byToken.Store(&empty)
	c.started.Store(int64(clock.Now()))
	return c
}

// Register returns the id of method, assigning one if needed.
func (c *Collector) Register(method metadata.Token) int {
	if e, found := (*c.byToken.Load())[method]; found {
		return e.id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	current := *c.byToken.Load()
	if e, found := current[method]; found {
		return e.id
	}
	e := &entry{id: len(c.byID) + 1, token: method}
	next := make(map[metadata.Token]*entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[method] = e
	c.byID = append(c.byID, e)
	c.byToken.Store(&next)
	return e.id
}

// Method returns the token registered under id.
func (c *Collector) Method(id int) (metadata.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 1 || id > len(c.byID) {
		return metadata.NilToken, false
	}
	return c.byID[id-1].token, true
}

func (c *Collector) cursor(gid int64) *cursor {
	if v, found := c.cursors.Load(gid); found {
		return v.(*cursor)
	}
	cur := &cursor{base: c.root, current: c.root}
	c.cursors.Store(gid, cur)
	return cur
}

func (c *Collector) OnEnter(method metadata.Token) clock.Ticks {
	id := c.Register(method)
	cur := c.cursor(goroutineID())
	cur.current = cur.current.child(id)
	return clock.Now()
}

func (c *Collector) OnExit(method metadata.Token, start clock.Ticks) {
	elapsed := clock.Now() - start
	gid := goroutineID()
	v, found := c.cursors.Load(gid)
	if !found {
		return
	}
	cur := v.(*cursor)
	node := cur.current
	if node == cur.base {
		// The call was entered outside the capture that is now open.
		return
	}
	node.calls.Add(1)
	node.ticks.Add(int64(elapsed))
	cur.current = node.parent
	if cur.idle() {
		c.cursors.Delete(gid)
	}
}

// BeginCapture starts recording the calls of the current goroutine into a
// private tree as well. Captures nest, and each one must be ended on the
// goroutine that began it, after the calls it saw have returned.
func (c *Collector) BeginCapture() {
	cur := c.cursor(goroutineID())
	root := &callNode{}
	cur.captures = append(cur.captures, capture{
		root:    root,
		base:    cur.base,
		resume:  cur.current,
		started: clock.Now(),
	})
	cur.base, cur.current = root, root
}

// EndCapture ends the innermost capture of the current goroutine and
// reports the calls made during it. Those calls are then added to the
// tree the goroutine was in when the capture began. ok is false when the
// goroutine has no open capture.
func (c *Collector) EndCapture() (report Report, ok bool) {
	gid := goroutineID()
	v, found := c.cursors.Load(gid)
	if !found {
		return Report{}, false
	}
	cur := v.(*cursor)
	n := len(cur.captures)
	if n == 0 {
		return Report{}, false
	}
	last := cur.captures[n-1]
	cur.captures = cur.captures[:n-1]

	report = c.report(last.root, clock.Since(last.started))
	last.root.mergeInto(last.resume)
	cur.base, cur.current = last.base, last.resume
	if cur.idle() {
		c.cursors.Delete(gid)
	}
	return report, true
}

// Reset zeroes the shared tree and restarts the reporting window. Ids and
// open captures are kept.
func (c *Collector) Reset() {
	c.root.clear()
	c.started.Store(int64(clock.Now()))
}

// MethodStats is the aggregate of one method, or of one call path, over a
// reporting window. ID 0 stands for ROOT.
type MethodStats struct {
	ID      int
	Token   metadata.Token
	Name    string
	Calls   int64
	Time    time.Duration
	Percent float64 // share of the window's wall time
}

// Node is one call path of a report. Time is inclusive.
type Node struct {
	MethodStats
	Children []Node // slowest first
}

// Report is a snapshot of a call tree.
type Report struct {
	Elapsed time.Duration
	// Tree is ROOT, at 100% of Elapsed, with the call paths below it.
	Tree Node
	// Methods holds the self time of each method: the time of its paths
	// minus the time of the traced calls they made. Slowest first.
	Methods []MethodStats
	// Root is the part of Elapsed that no traced call accounts for.
	Root MethodStats
}

const rootName = "ROOT"

// Report snapshots the shared tree. Paths that were never completed are
// left out.
func (c *Collector) Report() Report {
	return c.report(c.root, clock.Since(clock.Ticks(c.started.Load())))
}

func (c *Collector) report(root *callNode, elapsed time.Duration) Report {
	b := reportBuilder{collector: c, elapsed: elapsed, self: make(map[metadata.Token]*MethodStats)}
	r := Report{
		Elapsed: elapsed,
		Tree:    Node{MethodStats: MethodStats{Name: rootName, Time: elapsed, Percent: 100}},
	}

	var accounted time.Duration
	for _, child := range root.kids() {
		if node, ok := b.node(child); ok {
			r.Tree.Children = append(r.Tree.Children, node)
			accounted += node.Time
		}
	}
	sortNodes(r.Tree.Children)

	for _, token := range b.order {
		r.Methods = append(r.Methods, *b.self[token])
	}
	slices.SortStableFunc(r.Methods, func(a, b MethodStats) int {
		return cmp.Compare(b.Time, a.Time)
	})
	for i := range r.Methods {
		r.Methods[i].Percent = b.percent(r.Methods[i].Time)
	}

	// Calls on several goroutines can add up to more than the window.
	r.Root = MethodStats{Name: rootName, Calls: 1, Time: max(elapsed-accounted, 0)}
	r.Root.Percent = b.percent(r.Root.Time)
	return r
}

type reportBuilder struct {
	collector *Collector
	elapsed   time.Duration
	self      map[metadata.Token]*MethodStats
	order     []metadata.Token
}

func (b *reportBuilder) percent(d time.Duration) float64 {
	if b.elapsed <= 0 {
		return 0
	}
	return float64(d) * 100 / float64(b.elapsed)
}

func (b *reportBuilder) node(n *callNode) (Node, bool) {
	calls := n.calls.Load()
	if calls == 0 {
		return Node{}, false
	}
	token, _ := b.collector.Method(n.id)
	name, definition := b.collector.describe(token)
	total := time.Duration(n.ticks.Load())
	node := Node{MethodStats: MethodStats{
		ID:      n.id,
		Token:   token,
		Name:    name,
		Calls:   calls,
		Time:    total,
		Percent: b.percent(total),
	}}

	self := total
	for _, child := range n.kids() {
		if childNode, ok := b.node(child); ok {
			node.Children = append(node.Children, childNode)
			self -= childNode.Time
		}
	}
	sortNodes(node.Children)

	// Instantiations of a generic method are listed under its definition.
	stat, found := b.self[definition]
	if !found {
		stat = &MethodStats{ID: n.id, Token: definition, Name: name}
		b.self[definition] = stat
		b.order = append(b.order, definition)
	}
	stat.Calls += calls
	stat.Time += self
	return node, true
}

func sortNodes(nodes []Node) {
	slices.SortStableFunc(nodes, func(a, b Node) int {
		return cmp.Compare(b.Time, a.Time)
	})
}

// describe names method and returns the token of its definition, which is
// the token itself unless the provider resolves it to another record.
func (c *Collector) describe(method metadata.Token) (string, metadata.Token) {
	if c.provider != nil {
		if record, err := c.provider.Method(method); err == nil {
			if record.Token.IsNil() {
				return record.FullName(), method
			}
			return record.FullName(), record.Token
		}
	}
	return method.String(), method
}
