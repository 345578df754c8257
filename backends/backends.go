// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface of the compute library that consumes the kernel in/out maps: the
// gather, matrix multiply and scatter-add steps of a sparse convolution.
//
// A Backend is a long-lived handle (think a cuBLAS/cuSPARSE handle pair): it is created once per metadata
// scope, reused by every operation of that scope, and released exactly once with Finalize.
//
// Implementations register themselves with Register, usually in their package init. Include the default ones
// with:
//
//	import _ "github.com/gomlx/sparseconv/backends/default"
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Backend is the API a compute library needs to implement to execute sparse operations.
//
// Features are matrices shaped [numRows, numChannels]. Rows are selected with the int32 row lists of a
// kernel in/out map.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "cpu".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// GatherMulScatter accumulates, for each pair i, `dst[dstRows[i], :] += src[srcRows[i], :] * kernel`.
	//
	// The kernel is shaped [src channels, dst channels]. Pass `kernel.T()` to multiply by the transposed kernel.
	GatherMulScatter(src *mat.Dense, kernel mat.Matrix, dst *mat.Dense, srcRows, dstRows []int32) error

	// GatherOuterAccumulate accumulates `dst += a[aRows, :]ᵀ * b[bRows, :]`, used for the gradient of the kernels.
	//
	// dst is shaped [a channels, b channels].
	GatherOuterAccumulate(a, b, dst *mat.Dense, aRows, bRows []int32) error

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a constructor that takes as input a configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "SPARSECONV_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment variable SPARSECONV_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "cpu") and "<backend_configuration>" is
// backend specific. A config without ":" is taken as a backend name if one is registered with that name,
// otherwise as the configuration of the first registered backend.
//
// It panics if no backend was registered, and it returns an error if the backend is unknown or fails to
// be created.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for sparseconv -- maybe import the default ones with import _ "github.com/gomlx/sparseconv/backends/default"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q with configuration %q", backendName, backendConfig)
	}
	return backend, nil
}
