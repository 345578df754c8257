// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sparse implements the operations on sparse tensors that consume the kernel in/out maps of a
// metadata scope: convolutions, transposed convolutions, poolings and global broadcasts.
//
// Features are *mat.Dense shaped [numRows, numChannels], where row i holds the features of the coordinate at
// row i of the coordinates registered in the scope for the corresponding pixel distance.
//
// Forward operations build (or reuse) the kernel maps they need through the scope cache. Backward operations
// never build anything: they require the maps built by their forward counterpart, and return
// metadata.ErrMissingOutputMapping otherwise.
package sparse

import (
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// newFeatures returns a zero initialized features matrix.
func newFeatures(numRows, numChannels int) (*mat.Dense, error) {
	if numRows <= 0 || numChannels <= 0 {
		return nil, errors.Wrapf(metadata.ErrInvalidArgument, "features shaped [%d, %d] must be non-empty",
			numRows, numChannels)
	}
	return mat.NewDense(numRows, numChannels, nil), nil
}

// checkRows returns ErrBufferSizeMismatch if features doesn't have one row per coordinate at pixelDist.
//
// Resolutions without coordinates are rejected with ErrInvalidArgument: gonum matrices can't have zero rows.
func checkRows(md *metadata.Metadata, name string, features mat.Matrix, pixelDist coords.Vec) (numRows int, err error) {
	numRows, err = md.NumCoords(pixelDist)
	if err != nil {
		return 0, err
	}
	if numRows == 0 {
		return 0, errors.Wrapf(metadata.ErrInvalidArgument, "no coordinates registered at pixel distance %s", pixelDist)
	}
	if rows, _ := features.Dims(); rows != numRows {
		return 0, errors.Wrapf(metadata.ErrBufferSizeMismatch, "%s has %d rows, but there are %d coordinates at pixel distance %s",
			name, rows, numRows, pixelDist)
	}
	return numRows, nil
}

// checkShape returns ErrBufferSizeMismatch if m is not shaped [rows, cols].
func checkShape(name string, m mat.Matrix, rows, cols int) error {
	if r, c := m.Dims(); r != rows || c != cols {
		return errors.Wrapf(metadata.ErrBufferSizeMismatch, "%s shaped [%d, %d], expected [%d, %d]", name, r, c, rows, cols)
	}
	return nil
}

// numChannels returns the number of columns of m.
func numChannels(m mat.Matrix) int {
	_, cols := m.Dims()
	return cols
}
