// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
)

var (
	// ErrMissingResolution is returned when the requested pixel distance was never registered in the scope.
	ErrMissingResolution = errors.New("missing resolution")

	// ErrMissingOutputMapping is returned when a transposed or backward operation requires an output coordinate
	// set or an in/out map that was not built.
	ErrMissingOutputMapping = errors.New("missing output mapping")

	// ErrDimensionMismatch is the same as coords.ErrDimensionMismatch.
	ErrDimensionMismatch = coords.ErrDimensionMismatch

	// ErrBufferSizeMismatch is the same as coords.ErrBufferSizeMismatch.
	ErrBufferSizeMismatch = coords.ErrBufferSizeMismatch

	// ErrInvalidArgument is the same as coords.ErrInvalidArgument.
	ErrInvalidArgument = coords.ErrInvalidArgument

	// ErrReleased is returned when a scope is used after being released.
	ErrReleased = errors.New("scope released")
)
