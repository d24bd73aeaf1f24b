package proxy

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// Group identifies one of the three attribute roles in the buffer.
type Group int

const (
	// GroupX holds the primary inputs.
	GroupX Group = iota
	// GroupTau holds the auxiliary context inputs.
	GroupTau
	// GroupY holds the regression targets.
	GroupY
)

// Buffer is a fixed-capacity circular store of observation-derived feature
// rows. All three groups share one insertion cursor; once the buffer has
// wrapped, new rows overwrite the oldest. Capacity is fixed at
// construction.
type Buffer struct {
	capacity int

	x   []*mat.Dense // capacity x width, one per X attribute
	tau []*mat.Dense
	y   []*mat.Dense

	lastID  int
	wrapped bool

	rng *rand.Rand
}

// NewBuffer creates a buffer for the given per-attribute widths.
func NewBuffer(capacity int, szX, szTau, szY []int, seed int64) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.NewValueError("NewBuffer", "capacity must be positive")
	}
	alloc := func(sizes []int) []*mat.Dense {
		ms := make([]*mat.Dense, len(sizes))
		for i, sz := range sizes {
			ms[i] = mat.NewDense(capacity, sz, nil)
		}
		return ms
	}
	return &Buffer{
		capacity: capacity,
		x:        alloc(szX),
		tau:      alloc(szTau),
		y:        alloc(szY),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Store writes one row per attribute in every group at the current cursor,
// then advances the cursor circularly.
func (b *Buffer) Store(rowX, rowTau, rowY [][]float64) error {
	if err := b.setRows(GroupX, rowX); err != nil {
		return err
	}
	if err := b.setRows(GroupTau, rowTau); err != nil {
		return err
	}
	if err := b.setRows(GroupY, rowY); err != nil {
		return err
	}
	b.lastID++
	if b.lastID >= b.capacity {
		b.lastID = 0
		b.wrapped = true
	}
	return nil
}

func (b *Buffer) setRows(g Group, rows [][]float64) error {
	stores := b.group(g)
	if len(rows) != len(stores) {
		return errors.NewDimensionError("Buffer.Store", len(stores), len(rows))
	}
	for i, row := range rows {
		_, w := stores[i].Dims()
		if len(row) != w {
			return errors.NewDimensionError("Buffer.Store", w, len(row))
		}
		stores[i].SetRow(b.lastID, row)
	}
	return nil
}

func (b *Buffer) group(g Group) []*mat.Dense {
	switch g {
	case GroupX:
		return b.x
	case GroupTau:
		return b.tau
	default:
		return b.y
	}
}

// FilledCount returns the number of valid rows: the full capacity once the
// buffer has wrapped at least once, else the current cursor.
func (b *Buffer) FilledCount() int {
	if b.wrapped {
		return b.capacity
	}
	return b.lastID
}

// Capacity returns the fixed buffer capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Cursor returns the insertion cursor and whether the buffer has wrapped.
func (b *Buffer) Cursor() (lastID int, wrapped bool) { return b.lastID, b.wrapped }

// SetCursor restores the insertion cursor from persisted metadata.
func (b *Buffer) SetCursor(lastID int, wrapped bool) error {
	if lastID < 0 || lastID >= b.capacity {
		return errors.NewValueError("Buffer.SetCursor", "cursor out of range")
	}
	b.lastID = lastID
	b.wrapped = wrapped
	return nil
}

// Sample draws batch distinct row indices uniformly at random from the
// filled region of the buffer.
func (b *Buffer) Sample(batch int) ([]int, error) {
	filled := b.FilledCount()
	if filled < batch || filled == 0 {
		return nil, errors.NewInsufficientDataError("Buffer.Sample", batch, filled)
	}
	return b.rng.Perm(filled)[:batch], nil
}

// Rows gathers the raw rows at the given indices for every attribute of a
// group, one (len(indices) x width) matrix per attribute.
func (b *Buffer) Rows(g Group, indices []int) []*mat.Dense {
	stores := b.group(g)
	out := make([]*mat.Dense, len(stores))
	for i, store := range stores {
		_, w := store.Dims()
		m := mat.NewDense(len(indices), w, nil)
		for ri, idx := range indices {
			m.SetRow(ri, store.RawRowView(idx))
		}
		out[i] = m
	}
	return out
}

// LastRows returns the most recently stored row of every attribute in a
// group as 1-row matrices.
func (b *Buffer) LastRows(g Group) ([]*mat.Dense, error) {
	if b.FilledCount() == 0 {
		return nil, errors.NewInsufficientDataError("Buffer.LastRows", 1, 0)
	}
	last := b.lastID - 1
	if last < 0 {
		last = b.capacity - 1
	}
	return b.Rows(g, []int{last}), nil
}
