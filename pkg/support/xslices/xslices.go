// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"cmp"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Max scans the slice and returns the maximum value.
func Max[T cmp.Ordered](slice []T) (max T) {
	if len(slice) == 0 {
		return
	}
	max = slice[0]
	for _, v := range slice {
		if max < v {
			max = v
		}
	}
	return
}

// Sum returns the sum of the values of the slice.
func Sum[T constraints.Integer | constraints.Float](slice []T) (sum T) {
	for _, v := range slice {
		sum += v
	}
	return
}

// Flag defines on the flag set a flag for []T with the given name, description and default value.
// The flag value is a comma separated list, and parserFn parses each individual T value.
func Flag[T any](flags *flag.FlagSet, name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &genericSliceFlagImpl[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	flags.Var(f, name, usage)
	return &f.parsedSlice
}

// IntsFlag defines a flag for a comma separated list of ints, see Flag.
func IntsFlag(flags *flag.FlagSet, name string, defaultValue []int, usage string) *[]int {
	return Flag(flags, name, defaultValue, usage, func(valueStr string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(valueStr))
	})
}

// genericSliceFlagImpl implements flag.Value for a generic type.
type genericSliceFlagImpl[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *genericSliceFlagImpl[T]) String() string {
	return strings.Join(Map(f.parsedSlice, func(e T) string { return fmt.Sprint(e) }), ",")
}

func (f *genericSliceFlagImpl[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	f.parsedSlice = make([]T, len(parts))
	var err error
	for ii, part := range parts {
		f.parsedSlice[ii], err = f.parserFn(part)
		if err != nil {
			return err
		}
	}
	return nil
}
