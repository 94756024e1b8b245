// Package path models response paths as linked segments and lends them out
// from a per-request pool.
package path

import (
	"strconv"
	"strings"

	"github.com/hanpama/querycore/internal/pool"
)

// Segment is one step of a response path: a field response key or a list
// index. Segments link to their parent; the root segment has none.
type Segment struct {
	parent *Segment
	name   string
	index  int
	depth  int
	list   bool
}

func (s *Segment) Parent() *Segment { return s.parent }
func (s *Segment) Name() string     { return s.name }
func (s *Segment) Index() int       { return s.index }
func (s *Segment) IsIndex() bool    { return s.list }

// Depth is the number of segments from the root to s, inclusive.
func (s *Segment) Depth() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Root returns the outermost segment of s.
func (s *Segment) Root() *Segment {
	for s != nil && s.parent != nil {
		s = s.parent
	}
	return s
}

// HasPrefix reports whether p is s or one of its ancestors.
func (s *Segment) HasPrefix(p *Segment) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur == p {
			return true
		}
	}
	return false
}

// Slice returns the path as response keys (string) and indices (int), root
// first.
func (s *Segment) Slice() []any {
	if s == nil {
		return nil
	}
	out := make([]any, s.depth)
	for cur := s; cur != nil; cur = cur.parent {
		if cur.list {
			out[cur.depth-1] = cur.index
		} else {
			out[cur.depth-1] = cur.name
		}
	}
	return out
}

// String joins the segments with dots, rendering indices as [i].
func (s *Segment) String() string {
	var b strings.Builder
	for i, elem := range s.Slice() {
		if i > 0 {
			b.WriteByte('.')
		}
		switch v := elem.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func (s *Segment) clear() {
	*s = Segment{}
}

type segmentPolicy struct{}

func (segmentPolicy) Create() *Segment { return &Segment{} }

func (segmentPolicy) TryReset(s *Segment) bool {
	s.clear()
	return true
}

// Pool lends segments for the lifetime of one request. Segments are recycled
// by Reset; once the pooled capacity is used up, segments are heap allocated
// and OnOverflow is told about it.
type Pool struct {
	buf *pool.Buffer[*Segment]

	// OnOverflow, when set, is called for every segment allocated outside
	// the pool. It may be called concurrently.
	OnOverflow func()
}

// NewPool returns a pool holding up to capacity segments.
func NewPool(capacity int) *Pool {
	return &Pool{buf: pool.New[*Segment](capacity, segmentPolicy{})}
}

// Capacity returns the number of pooled segments.
func (p *Pool) Capacity() int { return p.buf.Capacity() }

func (p *Pool) acquire() *Segment {
	if s, ok := p.buf.TryAcquire(); ok {
		return s
	}
	if p.OnOverflow != nil {
		p.OnOverflow()
	}
	return &Segment{}
}

// Field returns the segment for response key name below parent. A nil
// parent starts a new path.
func (p *Pool) Field(parent *Segment, name string) *Segment {
	s := p.acquire()
	s.parent = parent
	s.name = name
	s.depth = parent.Depth() + 1
	return s
}

// Index returns the segment for list position i below parent.
func (p *Pool) Index(parent *Segment, i int) *Segment {
	s := p.acquire()
	s.parent = parent
	s.index = i
	s.list = true
	s.depth = parent.Depth() + 1
	return s
}

// Reset returns every lent segment to the pool. Segments obtained before the
// call must not be used afterwards. Not safe for concurrent use.
func (p *Pool) Reset() { p.buf.Reset() }
