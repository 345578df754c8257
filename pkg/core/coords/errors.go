// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package coords

import "github.com/pkg/errors"

var (
	// ErrDimensionMismatch is returned when a caller supplied tuple or coordinate buffer doesn't match the
	// configured number of spatial dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrBufferSizeMismatch is returned when a caller supplied output buffer is too small for the rows
	// being written.
	ErrBufferSizeMismatch = errors.New("buffer size mismatch")

	// ErrInvalidArgument is returned for values that are out of range: non-positive strides, even sized
	// hypercross kernels, pixel distances not divisible by the stride in a transposed operation, etc.
	ErrInvalidArgument = errors.New("invalid argument")
)
