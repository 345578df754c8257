// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a backends.Backend in pure Go, using gonum for the matrix multiplications.
//
// It registers itself as "cpu". The configuration is a comma separated list of options:
//
//   - "chunk=<n>": maximum number of pairs gathered per matrix multiplication, it bounds the temporary memory
//     used. Default is 4096.
package cpu

import (
	"strconv"
	"strings"

	"github.com/gomlx/sparseconv/backends"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// BackendName to be used in SPARSECONV_BACKEND to specify this backend.
const BackendName = "cpu"

// DefaultChunkSize is the default maximum number of pairs gathered at once.
const DefaultChunkSize = 4096

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend.
type Backend struct {
	chunkSize int
	finalized bool
}

// Compile time check.
var _ backends.Backend = (*Backend)(nil)

// New constructs a new cpu Backend.
func New(config string) (backends.Backend, error) {
	b := &Backend{chunkSize: DefaultChunkSize}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "chunk":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("backend %q: invalid value for option %q, it must be a positive integer",
					BackendName, option)
			}
			b.chunkSize = n
		default:
			return nil, errors.Errorf("backend %q: unknown configuration option %q", BackendName, option)
		}
	}
	klog.V(1).Infof("created backend %q with chunk size %d", BackendName, b.chunkSize)
	return b, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "Pure Go sparse operations using gonum (chunk=" + strconv.Itoa(b.chunkSize) + ")"
}

// ChunkSize returns the maximum number of pairs gathered per matrix multiplication.
func (b *Backend) ChunkSize() int { return b.chunkSize }

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	b.finalized = true
}

// IsFinalized returns whether Finalize was called.
func (b *Backend) IsFinalized() bool { return b.finalized }

func (b *Backend) checkPairs(srcRows, dstRows []int32) error {
	if b.finalized {
		return errors.Errorf("backend %q used after Finalize", BackendName)
	}
	if len(srcRows) != len(dstRows) {
		return errors.Errorf("rows lists of different lengths: %d != %d", len(srcRows), len(dstRows))
	}
	return nil
}

// gather copies the rows of m into a new matrix.
func gather(m *mat.Dense, rows []int32) *mat.Dense {
	_, cols := m.Dims()
	gathered := mat.NewDense(len(rows), cols, nil)
	for ii, row := range rows {
		gathered.SetRow(ii, m.RawRowView(int(row)))
	}
	return gathered
}

// GatherMulScatter implements backends.Backend.
func (b *Backend) GatherMulScatter(src *mat.Dense, kernel mat.Matrix, dst *mat.Dense, srcRows, dstRows []int32) error {
	if err := b.checkPairs(srcRows, dstRows); err != nil {
		return err
	}
	_, srcCols := src.Dims()
	kRows, kCols := kernel.Dims()
	_, dstCols := dst.Dims()
	if kRows != srcCols || kCols != dstCols {
		return errors.Wrapf(coords.ErrDimensionMismatch, "kernel shaped [%d, %d] can't multiply %d channels into %d channels",
			kRows, kCols, srcCols, dstCols)
	}
	var product mat.Dense
	for start := 0; start < len(srcRows); start += b.chunkSize {
		end := min(start+b.chunkSize, len(srcRows))
		product.Reset()
		product.Mul(gather(src, srcRows[start:end]), kernel)
		for ii, row := range dstRows[start:end] {
			floats.Add(dst.RawRowView(int(row)), product.RawRowView(ii))
		}
	}
	return nil
}

// GatherOuterAccumulate implements backends.Backend.
func (b *Backend) GatherOuterAccumulate(a, bMat, dst *mat.Dense, aRows, bRows []int32) error {
	if err := b.checkPairs(aRows, bRows); err != nil {
		return err
	}
	_, aCols := a.Dims()
	_, bCols := bMat.Dims()
	dRows, dCols := dst.Dims()
	if dRows != aCols || dCols != bCols {
		return errors.Wrapf(coords.ErrDimensionMismatch, "destination shaped [%d, %d], expected [%d, %d]",
			dRows, dCols, aCols, bCols)
	}
	var product mat.Dense
	for start := 0; start < len(aRows); start += b.chunkSize {
		end := min(start+b.chunkSize, len(aRows))
		product.Reset()
		product.Mul(gather(a, aRows[start:end]).T(), gather(bMat, bRows[start:end]))
		dst.Add(dst, &product)
	}
	return nil
}
