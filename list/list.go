// Package list implements an intrusive circular doubly-linked list with a
// sentinel node. Nodes are embedded in the values they queue, so list
// membership costs no allocation and removal needs only the node itself.
// A list never owns its elements; it only links them.
package list

// Node is one link in a list. Embed a Node in the queued type and set
// Value to point back at the container before first insertion.
type Node[T any] struct {
	next, prev *Node[T]

	// Value is the element this node belongs to.
	Value T
}

// Next returns the node after n, which is the list's sentinel when n is
// the last element.
func (n *Node[T]) Next() *Node[T] { return n.next }

// Prev returns the node before n.
func (n *Node[T]) Prev() *Node[T] { return n.prev }

// Detached reports whether the node is not currently linked in any list.
func (n *Node[T]) Detached() bool { return n.next == nil }

// List is a circular doubly-linked list of intrusive nodes. The zero
// value is not ready for use; call Init or construct with New.
type List[T any] struct {
	sentinel Node[T]
}

// New returns an initialized empty list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.Init()
	return l
}

// Init empties the list by linking the sentinel to itself. Any nodes
// previously linked are abandoned in place.
func (l *List[T]) Init() {
	l.sentinel.next = &l.sentinel
	l.sentinel.prev = &l.sentinel
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.sentinel.next == &l.sentinel }

// Front returns the first node, or End() if the list is empty.
func (l *List[T]) Front() *Node[T] { return l.sentinel.next }

// Back returns the last node, or End() if the list is empty.
func (l *List[T]) Back() *Node[T] { return l.sentinel.prev }

// End returns the sentinel, the position one past the last element.
// Iterate with:
//
//	for n := l.Front(); n != l.End(); n = n.Next() { ... }
func (l *List[T]) End() *Node[T] { return &l.sentinel }

// InsertBefore links node immediately before position and returns node.
func (l *List[T]) InsertBefore(position, node *Node[T]) *Node[T] {
	node.prev = position.prev
	node.next = position
	node.prev.next = node
	position.prev = node
	return node
}

// PushBack appends node at the end of the list.
func (l *List[T]) PushBack(node *Node[T]) *Node[T] {
	return l.InsertBefore(&l.sentinel, node)
}

// PushFront prepends node at the head of the list.
func (l *List[T]) PushFront(node *Node[T]) *Node[T] {
	return l.InsertBefore(l.sentinel.next, node)
}

// Remove unlinks node from whatever list it is on and returns it. The
// node's links are cleared so Detached reports true afterwards.
func Remove[T any](node *Node[T]) *Node[T] {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.next = nil
	node.prev = nil
	return node
}

// Splice unlinks the inclusive range [first, last] from its current list
// and relinks it immediately before position, preserving order. first and
// last may be the same node. Constant time regardless of range length.
func (l *List[T]) Splice(position, first, last *Node[T]) {
	first.prev.next = last.next
	last.next.prev = first.prev

	first.prev = position.prev
	last.next = position

	first.prev.next = first
	position.prev = last
}

// Len walks the list and counts its elements.
func (l *List[T]) Len() int {
	n := 0
	for node := l.Front(); node != l.End(); node = node.Next() {
		n++
	}
	return n
}
