// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package coords

import (
	"github.com/cockroachdb/swiss"
	"github.com/pkg/errors"
)

// IndexMap maps coordinates at one resolution to dense row indices in [0, Len()).
//
// Rows are assigned sequentially, in the order coordinates are first inserted, and they are never reused
// or removed.
//
// Lookups use a swiss table keyed by the full coordinate, with Key.Hash only used for bucket placement:
// two distinct coordinates never share a row, even if their hashes collide.
//
// An IndexMap is not safe for concurrent mutation, but concurrent Lookup calls are fine as long as there
// are no concurrent inserts.
type IndexMap struct {
	dims int
	rows []Key
	m    *swiss.Map[Key, int32]
}

// keyHash is the swiss.Map hash function: the seed is mixed in to keep the table's own seeding.
func keyHash(key *Key, seed uintptr) uintptr {
	return uintptr(key.Hash() ^ uint64(seed))
}

// NewIndexMap creates an empty IndexMap for coordinates with dims spatial dimensions.
//
// capacity is a hint of the number of rows to be inserted; it can be 0.
func NewIndexMap(dims, capacity int) (*IndexMap, error) {
	if err := checkDims(dims); err != nil {
		return nil, err
	}
	return &IndexMap{
		dims: dims,
		rows: make([]Key, 0, capacity),
		m:    swiss.New[Key, int32](capacity, swiss.WithHash[Key, int32](keyHash)),
	}, nil
}

// Dims returns the number of spatial dimensions of the coordinates.
func (im *IndexMap) Dims() int { return im.dims }

// Len returns the number of rows.
func (im *IndexMap) Len() int { return len(im.rows) }

// Insert the coordinate, if not yet present, and return its row index.
//
// It's idempotent: inserting an existing coordinate returns its original row and inserted=false.
func (im *IndexMap) Insert(key Key) (row int, inserted bool) {
	if existing, found := im.m.Get(key); found {
		return int(existing), false
	}
	row = len(im.rows)
	im.m.Put(key, int32(row))
	im.rows = append(im.rows, key)
	return row, true
}

// Append adds the coordinate as a new row, even if it is already present.
//
// Lookup of a coordinate inserted more than once returns the first row it was inserted at.
func (im *IndexMap) Append(key Key) (row int) {
	row = len(im.rows)
	if _, found := im.m.Get(key); !found {
		im.m.Put(key, int32(row))
	}
	im.rows = append(im.rows, key)
	return row
}

// InsertBatch inserts the rows of a flat coordinates buffer, shaped [numRows, dims+1] with the batch index
// last.
//
// If allowDuplicates is false, repeated coordinates collapse to the row of their first occurrence. If it is
// true every input row gets its own row, see Append.
//
// Nothing is inserted if it returns an error.
func (im *IndexMap) InsertBatch(flat []int32, allowDuplicates bool) error {
	width := im.dims + 1
	if len(flat)%width != 0 {
		return errors.Wrapf(ErrDimensionMismatch, "coordinates buffer with %d values is not a multiple of %d (dims+1)",
			len(flat), width)
	}
	for start := 0; start < len(flat); start += width {
		key := KeyFromRow(flat[start : start+width])
		if allowDuplicates {
			im.Append(key)
		} else {
			im.Insert(key)
		}
	}
	return nil
}

// Lookup returns the row of the coordinate, if present.
func (im *IndexMap) Lookup(key Key) (row int, found bool) {
	r, found := im.m.Get(key)
	return int(r), found
}

// Row returns the coordinate at the given row.
func (im *IndexMap) Row(row int) Key {
	return im.rows[row]
}

// Rows returns the coordinates in row order. The returned slice is owned by the IndexMap and must not
// be changed.
func (im *IndexMap) Rows() []Key {
	return im.rows
}

// NumUnique returns the number of distinct coordinates. It differs from Len only if coordinates were
// inserted with duplicates.
func (im *IndexMap) NumUnique() int {
	return im.m.Len()
}
