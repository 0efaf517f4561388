// Package llist implements a doubly-linked list whose node payloads are
// allocated from a heap.Facade rather than the Go garbage collector.
//
// A Node is an ordinary Go value that owns its prev/next links as Go
// pointers; only the caller's fixed-size payload (Node.Data) is allocated
// through the list's Allocator. The links are not stored in that
// allocation.
package llist

// Allocator is the subset of heap.Facade that llist needs: byte-slab
// allocation and release. Spelled out as an interface so tests can swap
// in a fake without importing heap.
type Allocator interface {
	Alloc(size int) []byte
	Free(p []byte)
}

// Node is a handle to one list element. Its Data slice is backed by
// memory owned by the list's Allocator; it remains valid until the node
// is removed from the list.
type Node struct {
	list *List
	prev *Node
	next *Node

	buf  []byte // the full allocation: Data is buf[:nodeSize]
	Data []byte
}

// List is a doubly-linked list of fixed-size nodes. The zero value is not
// ready to use; construct one with New.
type List struct {
	alloc    Allocator
	nodeSize int
	head     *Node
	tail     *Node
	len      int
}

// New creates an empty list whose nodes carry nodeSize bytes of payload
// each, allocated through alloc.
func New(alloc Allocator, nodeSize int) *List {
	return &List{alloc: alloc, nodeSize: nodeSize}
}

func (l *List) newNode() *Node {
	buf := l.alloc.Alloc(l.nodeSize)
	return &Node{list: l, buf: buf, Data: buf}
}

// InsHead allocates a new node, inserts it at the head of the list, and
// returns it.
func (l *List) InsHead() *Node {
	n := l.newNode()
	n.next = l.head
	n.prev = nil
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
	return n
}

// InsTail allocates a new node, inserts it at the tail of the list, and
// returns it.
func (l *List) InsTail() *Node {
	n := l.newNode()
	n.prev = l.tail
	n.next = nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.len++
	return n
}

// InsPrev allocates a new node and inserts it immediately before anchor.
func (l *List) InsPrev(anchor *Node) *Node {
	if anchor == l.head {
		return l.InsHead()
	}
	n := l.newNode()
	n.prev = anchor.prev
	n.next = anchor
	anchor.prev.next = n
	anchor.prev = n
	l.len++
	return n
}

// Remove unlinks node from the list and frees its backing allocation.
func (l *List) Remove(node *Node) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	l.len--
	l.alloc.Free(node.buf)
	node.list = nil
	node.prev = nil
	node.next = nil
}

// Clear removes and frees every node in the list.
func (l *List) Clear() {
	for n := l.head; n != nil; {
		next := n.next
		l.alloc.Free(n.buf)
		n.list, n.prev, n.next = nil, nil, nil
		n = next
	}
	l.head, l.tail = nil, nil
	l.len = 0
}

// ChgList moves node from its current list to dst, inserting it at dst's
// head or tail depending on asHead.
func (l *List) ChgList(dst *List, node *Node, asHead bool) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	l.len--

	node.list = dst
	if asHead {
		node.next = dst.head
		node.prev = nil
		if dst.head != nil {
			dst.head.prev = node
		} else {
			dst.tail = node
		}
		dst.head = node
	} else {
		node.prev = dst.tail
		node.next = nil
		if dst.tail != nil {
			dst.tail.next = node
		} else {
			dst.head = node
		}
		dst.tail = node
	}
	dst.len++
}

// MoveBefore relocates node to sit immediately before anchor in the same
// list.
func (l *List) MoveBefore(node, anchor *Node) {
	if node == anchor {
		return
	}
	// unlink node
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}

	// relink before anchor
	node.prev = anchor.prev
	node.next = anchor
	if anchor.prev != nil {
		anchor.prev.next = node
	} else {
		l.head = node
	}
	anchor.prev = node
}

// GetHead returns the first node, or nil if the list is empty.
func (l *List) GetHead() *Node { return l.head }

// GetTail returns the last node, or nil if the list is empty.
func (l *List) GetTail() *Node { return l.tail }

// GetNext returns the node following n, or nil at the tail.
func (l *List) GetNext(n *Node) *Node { return n.next }

// GetPrev returns the node preceding n, or nil at the head.
func (l *List) GetPrev(n *Node) *Node { return n.prev }

// GetLen returns the number of nodes currently in the list.
func (l *List) GetLen() int { return l.len }

// IsEmpty reports whether the list has no nodes.
func (l *List) IsEmpty() bool { return l.len == 0 }
