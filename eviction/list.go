package eviction

// node is one tracked key inside the ordering list.
type node struct {
	key  string
	prev *node
	next *node
}

/*
keyList implements both supported policies with one structure: a map for
O(1) key lookup plus a doubly-linked list for ordering. The front of the
list is the most recently written (or, for LRU, accessed) key; the tail
is the eviction victim.

With reorderOnGet=false this is the OldestWrite policy: only OnPut moves
a key to the front, so the tail is always the key with the smallest
timestamp in the store. With reorderOnGet=true reads also promote, which
is classic LRU.

Not safe for concurrent use on its own; the store calls it under its
write lock.
*/
type keyList struct {
	nodes        map[string]*node
	head         *node
	tail         *node
	reorderOnGet bool
}

func (l *keyList) OnGet(key string) {
	if !l.reorderOnGet {
		return
	}
	if n, ok := l.nodes[key]; ok {
		l.unlink(n)
		l.pushFront(n)
	}
}

func (l *keyList) OnPut(key string) {
	if l.nodes == nil {
		l.nodes = make(map[string]*node)
	}
	if n, ok := l.nodes[key]; ok {
		// Rewrite renews the timestamp, so the key becomes newest.
		l.unlink(n)
		l.pushFront(n)
		return
	}
	n := &node{key: key}
	l.nodes[key] = n
	l.pushFront(n)
}

func (l *keyList) Remove(key string) {
	if n, ok := l.nodes[key]; ok {
		l.unlink(n)
		delete(l.nodes, key)
	}
}

func (l *keyList) Evict() string {
	if l.tail == nil {
		return ""
	}
	k := l.tail.key
	l.unlink(l.tail)
	delete(l.nodes, k)
	return k
}

func (l *keyList) Len() int {
	return len(l.nodes)
}

func (l *keyList) pushFront(n *node) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *keyList) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
