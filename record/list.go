package record

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Role tags a List with its owner; the role decides the capacity.
type Role int

const (
	RoleSensor Role = iota
	RoleCollector
	RoleTemporary
)

// List capacities per role. Temporary lists are unbounded.
const (
	SensorCapacity    = 100
	CollectorCapacity = 500
)

func (r Role) String() string {
	switch r {
	case RoleSensor:
		return "sensor"
	case RoleCollector:
		return "collector"
	case RoleTemporary:
		return "temporary"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Capacity returns the maximum number of live records for r,
// or 0 if r is unbounded.
func (r Role) Capacity() int {
	switch r {
	case RoleSensor:
		return SensorCapacity
	case RoleCollector:
		return CollectorCapacity
	}
	return 0
}

// ErrCountMismatch is returned by Clear when the list's count
// disagreed with the number of linked nodes.
var ErrCountMismatch = errors.New("record: list count does not match linked nodes")

// An ID names a node of a List. IDs stay valid until the node is removed.
type ID int

// None is the ID of no node.
const None ID = -1

type node struct {
	m          *Measurement
	prev, next ID
	live       bool
}

// A List is an ordered, bounded collection of measurements.
// The newest record is at the head and the oldest at the tail.
// Nodes live in an arena and link to each other by ID.
type List struct {
	role  Role
	nodes []node
	free  []ID
	head  ID
	tail  ID
	count int
	log   logrus.FieldLogger
}

// NewList returns an empty list for role r. A nil logger discards output.
func NewList(r Role, log logrus.FieldLogger) *List {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &List{
		role: r,
		head: None,
		tail: None,
		log:  log.WithField("list", r.String()),
	}
}

// Role returns the role the list was created with.
func (l *List) Role() Role { return l.role }

// Len returns the number of live records.
func (l *List) Len() int { return l.count }

// Head returns the ID of the newest record, or None.
func (l *List) Head() ID { return l.head }

// Tail returns the ID of the oldest record, or None.
func (l *List) Tail() ID { return l.tail }

// Next returns the ID of the next older record after id, or None.
func (l *List) Next(id ID) ID {
	if !l.valid(id) {
		return None
	}
	return l.nodes[id].next
}

// Prev returns the ID of the next newer record before id, or None.
func (l *List) Prev(id ID) ID {
	if !l.valid(id) {
		return None
	}
	return l.nodes[id].prev
}

// Get returns the record stored at id, or nil if id is not live.
func (l *List) Get(id ID) *Measurement {
	if !l.valid(id) {
		return nil
	}
	return l.nodes[id].m
}

func (l *List) valid(id ID) bool {
	return id >= 0 && int(id) < len(l.nodes) && l.nodes[id].live
}

func (l *List) alloc(m *Measurement) ID {
	if n := len(l.free); n > 0 {
		id := l.free[n-1]
		l.free = l.free[:n-1]
		l.nodes[id] = node{m: m, prev: None, next: None, live: true}
		return id
	}
	l.nodes = append(l.nodes, node{m: m, prev: None, next: None, live: true})
	return ID(len(l.nodes) - 1)
}

// Insert adds m as the newest record. When the list is at capacity
// the oldest record is evicted first.
func (l *List) Insert(m *Measurement) ID {
	if c := l.role.Capacity(); c > 0 && l.count >= c {
		evicted := l.tail
		l.log.WithField("seq", l.nodes[evicted].m.Seq).Debug("evicting oldest record")
		l.Remove(evicted)
	}
	id := l.alloc(m)
	l.nodes[id].next = l.head
	if l.head != None {
		l.nodes[l.head].prev = id
	}
	l.head = id
	if l.tail == None {
		l.tail = id
	}
	l.count++
	return id
}

// Append adds m as the oldest record. It is meant for staging
// snapshots in temporary lists, where it keeps the source order.
func (l *List) Append(m *Measurement) ID {
	if c := l.role.Capacity(); c > 0 && l.count >= c {
		// Appending past the cap would evict the record just added.
		return None
	}
	id := l.alloc(m)
	l.nodes[id].prev = l.tail
	if l.tail != None {
		l.nodes[l.tail].next = id
	}
	l.tail = id
	if l.head == None {
		l.head = id
	}
	l.count++
	return id
}

// Remove detaches the record at id and returns it.
// Remove returns nil if id is not live.
func (l *List) Remove(id ID) *Measurement {
	if !l.valid(id) {
		return nil
	}
	n := l.nodes[id]
	if n.prev != None {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != None {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	l.nodes[id] = node{prev: None, next: None}
	l.free = append(l.free, id)
	l.count--
	return n.m
}

// Clear drops every record. It returns ErrCountMismatch if the
// count disagreed with the linked nodes; the list is empty either way.
func (l *List) Clear() error {
	linked := 0
	for id := l.head; id != None; id = l.nodes[id].next {
		linked++
		if linked > len(l.nodes) {
			break
		}
	}
	var err error
	if linked != l.count {
		err = fmt.Errorf("%w: count %d, linked %d", ErrCountMismatch, l.count, linked)
		l.log.WithError(err).Error("clear found inconsistent list")
	}
	l.nodes = l.nodes[:0]
	l.free = l.free[:0]
	l.head, l.tail = None, None
	l.count = 0
	return err
}

// Records returns the live records from head to tail.
func (l *List) Records() []*Measurement {
	out := make([]*Measurement, 0, l.count)
	for id := l.head; id != None; id = l.nodes[id].next {
		out = append(out, l.nodes[id].m)
	}
	return out
}

// Find returns a cursor over the records matching f.
func (l *List) Find(f Filter) *Cursor {
	c := &Cursor{l: l, f: f, next: l.head}
	switch f.Op {
	case OpFirst:
		c.next, c.single = l.tail, true
	case OpLast:
		c.next, c.single = l.head, true
	}
	return c
}

// Count returns the number of records matching f
// without collecting them.
func (l *List) Count(f Filter) int {
	switch f.Op {
	case OpAll:
		return l.count
	case OpFirst, OpLast:
		if l.count > 0 {
			return 1
		}
		return 0
	}
	n := 0
	for id := l.head; id != None; id = l.nodes[id].next {
		if f.Match(l.nodes[id].m) {
			n++
		}
	}
	return n
}

// A Cursor yields matching records from head to tail.
// It is finite and cannot be restarted. The record just yielded
// may be removed from the list without disturbing the cursor.
type Cursor struct {
	l      *List
	f      Filter
	next   ID
	single bool
	done   bool
}

// Next returns the next matching record and its ID.
// ok is false once the cursor is exhausted.
func (c *Cursor) Next() (id ID, m *Measurement, ok bool) {
	for !c.done && c.next != None {
		id = c.next
		n := c.l.nodes[id]
		c.next = n.next
		if c.single {
			c.done = true
			return id, n.m, true
		}
		if c.f.Match(n.m) {
			return id, n.m, true
		}
	}
	c.done = true
	return None, nil, false
}
