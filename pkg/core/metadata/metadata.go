// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metadata implements the scope that owns the coordinates of every resolution, the cached kernel in/out
// maps and the compute backend handle used by the sparse operations.
//
// A Metadata is created empty, and populated incrementally: coordinates are registered once per resolution
// (pixel distance), and kernel maps are built on first request and then reused for the lifetime of the scope,
// until Clear is called. Release drops everything and finalizes the backend.
//
// All methods are safe for concurrent use: they are serialized by a per-scope lock, so at most one builder runs
// for a given key and all callers observe the same cached result.
package metadata

import (
	"slices"
	"sync"

	"github.com/gomlx/sparseconv/backends"
	"github.com/gomlx/sparseconv/internal/workerspool"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/kernelmap"
	"github.com/gomlx/sparseconv/pkg/core/region"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cachedMap is a built kernel map and the region it was built with.
type cachedMap struct {
	m      *kernelmap.InOutMap
	region region.Region
}

// Metadata is a scope holding coordinates and cached kernel maps for coordinates with a fixed number of
// spatial dimensions.
type Metadata struct {
	mu   sync.Mutex
	dims int

	coordMaps  map[coords.Vec]*coords.IndexMap
	kernelMaps map[GeometryKey]cachedMap
	builder    *kernelmap.Builder

	backendConfig string
	backend       backends.Backend

	numBuilds int
	released  bool
}

// New creates a new empty scope for coordinates with dims spatial dimensions.
func New(dims int) (*Metadata, error) {
	if _, err := coords.MakeVec(dims, 1); err != nil {
		return nil, err
	}
	return &Metadata{
		dims:       dims,
		coordMaps:  make(map[coords.Vec]*coords.IndexMap),
		kernelMaps: make(map[GeometryKey]cachedMap),
		builder:    kernelmap.NewBuilder(nil),
	}, nil
}

// WithBackendConfig sets the configuration used to create the backend on first use, see backends.NewWithConfig.
// If not set, backends.New is used.
//
// It returns the Metadata itself, so calls can be cascaded.
func (m *Metadata) WithBackendConfig(config string) *Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backendConfig = config
	return m
}

// WithPool sets the pool used to build the kernel maps of the different offsets in parallel.
//
// It returns the Metadata itself, so calls can be cascaded.
func (m *Metadata) WithPool(pool *workerspool.Pool) *Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builder = kernelmap.NewBuilder(pool)
	return m
}

// Dims returns the number of spatial dimensions of the coordinates in this scope.
func (m *Metadata) Dims() int { return m.dims }

// lockedCheck returns an error if the scope was released. It must be called with the lock held.
func (m *Metadata) lockedCheck() error {
	if m.released {
		return ErrReleased
	}
	return nil
}

// checkVec returns ErrDimensionMismatch if v doesn't have the scope's number of dimensions.
func (m *Metadata) checkVec(name string, v coords.Vec) error {
	if v.Dims() != m.dims {
		return errors.Wrapf(ErrDimensionMismatch, "%s %s has %d dimensions, scope has %d", name, v, v.Dims(), m.dims)
	}
	return nil
}

// checkPixelDist validates a pixel distance of registered (non-origin) coordinates.
func (m *Metadata) checkPixelDist(pixelDist coords.Vec) error {
	if err := m.checkVec("pixel distance", pixelDist); err != nil {
		return err
	}
	if !pixelDist.AllPositive() {
		return errors.Wrapf(ErrInvalidArgument, "pixel distance must be positive, got %s", pixelDist)
	}
	return nil
}

// lockedCoordMap returns the coordinates at pixelDist or ErrMissingResolution.
func (m *Metadata) lockedCoordMap(pixelDist coords.Vec) (*coords.IndexMap, error) {
	im, found := m.coordMaps[pixelDist]
	if !found {
		return nil, errors.Wrapf(ErrMissingResolution, "no coordinates registered for pixel distance %s", pixelDist)
	}
	return im, nil
}

// Backend returns the scope's backend, creating it on first use.
//
// If the creation fails, the error is returned and the scope stays without a backend: creation is retried on
// the next call.
func (m *Metadata) Backend() (backends.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return nil, err
	}
	if m.backend != nil {
		return m.backend, nil
	}
	var backend backends.Backend
	var err error
	if m.backendConfig != "" {
		backend, err = backends.NewWithConfig(m.backendConfig)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return nil, errors.WithMessage(err, "failed to initialize the scope backend")
	}
	klog.V(1).Infof("scope backend initialized: %s", backend.Description())
	m.backend = backend
	return backend, nil
}

// initializeCoords registers the coordinates of a new resolution.
func (m *Metadata) initializeCoords(flat []int32, pixelDist coords.Vec, allowDuplicates bool) error {
	if err := m.checkPixelDist(pixelDist); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return err
	}
	if _, found := m.coordMaps[pixelDist]; found {
		return errors.Wrapf(ErrInvalidArgument, "coordinates at pixel distance %s already registered", pixelDist)
	}
	_, _, err := memoize(m.coordMaps, pixelDist, func() (*coords.IndexMap, error) {
		im, err := coords.NewIndexMap(m.dims, len(flat)/(m.dims+1))
		if err != nil {
			return nil, err
		}
		if err := im.InsertBatch(flat, allowDuplicates); err != nil {
			return nil, err
		}
		klog.V(1).Infof("registered %d coordinates (%d unique) at pixel distance %s", im.Len(), im.NumUnique(), pixelDist)
		return im, nil
	})
	return err
}

// InitializeCoords registers the coordinates at the given pixel distance. Repeated coordinates collapse to the
// row of their first occurrence.
//
// flat is shaped [numRows, dims+1], with the batch index last. It returns ErrInvalidArgument if the resolution was
// already registered.
func (m *Metadata) InitializeCoords(flat []int32, pixelDist coords.Vec) error {
	return m.initializeCoords(flat, pixelDist, false)
}

// InitializeCoordsWithDuplicates is like InitializeCoords, but every input row gets its own row even if the
// coordinates repeat. Lookups of a repeated coordinate return its first row.
func (m *Metadata) InitializeCoordsWithDuplicates(flat []int32, pixelDist coords.Vec) error {
	return m.initializeCoords(flat, pixelDist, true)
}

// checkGeometry validates the tuples of a non-global key.
func (m *Metadata) checkGeometry(key GeometryKey) error {
	if err := m.checkPixelDist(key.PixelDist); err != nil {
		return err
	}
	for _, named := range []struct {
		name string
		v    coords.Vec
	}{{"stride", key.Stride}, {"kernel size", key.KernelSize}, {"dilation", key.Dilation}} {
		if err := m.checkVec(named.name, named.v); err != nil {
			return err
		}
		if !named.v.AllPositive() {
			return errors.Wrapf(ErrInvalidArgument, "%s must be positive, got %s", named.name, named.v)
		}
	}
	// Transposed strides must divide the pixel distance.
	if _, err := key.OutPixelDist(); err != nil {
		return err
	}
	return nil
}

// lockedOutCoords returns the input and output coordinates for the key, creating the output coordinates of
// non-transposed operations if needed. It must be called with the lock held, and the key already validated.
func (m *Metadata) lockedOutCoords(key GeometryKey) (in, out *coords.IndexMap, outPixelDist coords.Vec, err error) {
	in, err = m.lockedCoordMap(key.PixelDist)
	if err != nil {
		return
	}
	outPixelDist, err = key.OutPixelDist()
	if err != nil {
		return
	}
	if key.Transpose {
		var found bool
		out, found = m.coordMaps[outPixelDist]
		if !found {
			err = errors.Wrapf(ErrMissingOutputMapping,
				"transposed operation from pixel distance %s requires coordinates registered at pixel distance %s",
				key.PixelDist, outPixelDist)
		}
		return
	}
	out, _, err = memoize(m.coordMaps, outPixelDist, func() (*coords.IndexMap, error) {
		klog.V(1).Infof("creating output coordinates at pixel distance %s from %s", outPixelDist, key.PixelDist)
		return kernelmap.StridedCoords(in, outPixelDist)
	})
	return
}

// InitializeOutCoords makes sure the output coordinates of a strided (or transposed) operation on the
// coordinates at pixelDist exist, and returns the output pixel distance.
//
// Non-transposed operations create the output coordinates if needed. Transposed operations never create
// coordinates: the finer resolution must have been registered already, or ErrMissingOutputMapping is returned.
func (m *Metadata) InitializeOutCoords(pixelDist, stride coords.Vec, transpose bool) (coords.Vec, error) {
	key := GeometryKey{PixelDist: pixelDist, Stride: stride, KernelSize: stride, Dilation: stride, Transpose: transpose}
	if err := m.checkGeometry(key); err != nil {
		return coords.Vec{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return coords.Vec{}, err
	}
	_, _, outPixelDist, err := m.lockedOutCoords(key)
	if err != nil {
		return coords.Vec{}, err
	}
	return outPixelDist, nil
}

// InitializeKernelMap returns the in/out map for the geometry key, building it on first request.
//
// The input coordinates (at key.PixelDist) must be registered, otherwise ErrMissingResolution is returned. Output
// coordinates are created for strided operations, but transposed operations require the finer coordinates to be
// registered (ErrMissingOutputMapping otherwise).
//
// The region is not part of the key: a cached map is returned as is even if it was built with a different region.
// All arguments are validated before anything is added to the scope.
func (m *Metadata) InitializeKernelMap(key GeometryKey, r region.Region) (*kernelmap.InOutMap, error) {
	if err := m.checkGeometry(key); err != nil {
		return nil, err
	}
	if err := r.Validate(key.KernelSize); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return nil, err
	}
	if cached, found := m.kernelMaps[key]; found {
		if !cached.region.Equal(r) {
			klog.Warningf("kernel map %s was built with region %s, reused for region %s", key, cached.region, r)
		}
		return cached.m, nil
	}
	in, out, outPixelDist, err := m.lockedOutCoords(key)
	if err != nil {
		return nil, err
	}
	cached, _, err := memoize(m.kernelMaps, key, func() (cachedMap, error) {
		params := kernelmap.Params{KernelSize: key.KernelSize, Dilation: key.Dilation, Region: r}
		var built *kernelmap.InOutMap
		var err error
		if key.Transpose {
			built, err = m.builder.BuildTranspose(in, out, outPixelDist, params)
		} else {
			built, err = m.builder.Build(in, out, key.PixelDist, params)
		}
		if err != nil {
			return cachedMap{}, err
		}
		m.numBuilds++
		klog.V(1).Infof("built kernel map %s (hash %016x): %s", key, key.Hash(), built)
		return cachedMap{m: built, region: r}, nil
	})
	if err != nil {
		return nil, err
	}
	return cached.m, nil
}

// KernelMap returns the previously built in/out map for the key, without building anything. It's used by the
// backward pass of operations, whose forward pass must have built the map.
//
// It returns ErrMissingResolution if the input coordinates are not registered, and ErrMissingOutputMapping if
// the output coordinates or the map itself were not built.
func (m *Metadata) KernelMap(key GeometryKey) (*kernelmap.InOutMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return nil, err
	}
	if _, err := m.lockedCoordMap(key.PixelDist); err != nil {
		return nil, err
	}
	outPixelDist, err := key.OutPixelDist()
	if err != nil {
		return nil, err
	}
	if _, found := m.coordMaps[outPixelDist]; !found {
		return nil, errors.Wrapf(ErrMissingOutputMapping, "no output coordinates at pixel distance %s for %s",
			outPixelDist, key)
	}
	cached, found := m.kernelMaps[key]
	if !found {
		return nil, errors.Wrapf(ErrMissingOutputMapping, "kernel map %s was not built", key)
	}
	return cached.m, nil
}

// InitializeOriginCoords registers the origin coordinates (the all-zero pixel distance) with one row per batch
// index from 0 to batchSize-1. It's a no-op if the origin coordinates already exist.
func (m *Metadata) InitializeOriginCoords(batchSize int) error {
	if batchSize < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative batch size %d", batchSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return err
	}
	_, _, err := memoize(m.coordMaps, coords.ZeroVec(m.dims), func() (*coords.IndexMap, error) {
		return kernelmap.OriginCoordsForBatches(m.dims, batchSize)
	})
	return err
}

// InitializeGlobalMap returns the in/out map of a global reduction of the coordinates at pixelDist: one kernel
// offset pairing every input row with the origin row of its batch. It's built on first request.
//
// If the origin coordinates don't exist yet, they are created with the batch indices present in the input.
// If they exist but miss some batch of the input, ErrInvalidArgument is returned.
func (m *Metadata) InitializeGlobalMap(pixelDist coords.Vec) (*kernelmap.InOutMap, error) {
	if err := m.checkPixelDist(pixelDist); err != nil {
		return nil, err
	}
	key := GlobalKey(pixelDist)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return nil, err
	}
	in, err := m.lockedCoordMap(pixelDist)
	if err != nil {
		return nil, err
	}
	if cached, found := m.kernelMaps[key]; found {
		return cached.m, nil
	}
	originPixelDist := coords.ZeroVec(m.dims)
	origin, found := m.coordMaps[originPixelDist]
	if !found {
		origin, err = kernelmap.OriginCoords(in)
		if err != nil {
			return nil, err
		}
	}
	// The global map is built before the origin coordinates are stored, so a failure leaves the scope unchanged.
	cached, _, err := memoize(m.kernelMaps, key, func() (cachedMap, error) {
		built, err := kernelmap.BuildGlobal(in, origin)
		if err != nil {
			return cachedMap{}, err
		}
		m.numBuilds++
		klog.V(1).Infof("built global map %s: %s", key, built)
		return cachedMap{m: built}, nil
	})
	if err != nil {
		return nil, err
	}
	_, _, _ = memoize(m.coordMaps, originPixelDist, func() (*coords.IndexMap, error) { return origin, nil })
	return cached.m, nil
}

// GlobalKernelMap returns the previously built global map for the coordinates at pixelDist. See KernelMap.
func (m *Metadata) GlobalKernelMap(pixelDist coords.Vec) (*kernelmap.InOutMap, error) {
	if err := m.checkPixelDist(pixelDist); err != nil {
		return nil, err
	}
	return m.KernelMap(GlobalKey(pixelDist))
}

// CoordMap returns the coordinates registered at pixelDist. The returned map must not be modified.
func (m *Metadata) CoordMap(pixelDist coords.Vec) (*coords.IndexMap, error) {
	if err := m.checkVec("pixel distance", pixelDist); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockedCheck(); err != nil {
		return nil, err
	}
	return m.lockedCoordMap(pixelDist)
}

// NumCoords returns the number of rows of the coordinates at pixelDist.
func (m *Metadata) NumCoords(pixelDist coords.Vec) (int, error) {
	im, err := m.CoordMap(pixelDist)
	if err != nil {
		return 0, err
	}
	return im.Len(), nil
}

// Coords copies the coordinates at pixelDist, in row order, into dst, shaped [numRows, dims+1].
//
// It returns ErrBufferSizeMismatch if dst doesn't have exactly numRows*(dims+1) elements.
func (m *Metadata) Coords(dst []int32, pixelDist coords.Vec) error {
	im, err := m.CoordMap(pixelDist)
	if err != nil {
		return err
	}
	if want := im.Len() * (m.dims + 1); len(dst) != want {
		return errors.Wrapf(ErrBufferSizeMismatch, "buffer for %d coordinates must have %d elements, got %d",
			im.Len(), want, len(dst))
	}
	dst = dst[:0]
	for _, key := range im.Rows() {
		dst = key.AppendTo(dst)
	}
	return nil
}

// IndexMap looks up each coordinate of query (shaped [numQueries, dims+1]) in the coordinates at pixelDist, and
// writes its row into dst, or -1 if it's not present.
//
// It returns ErrBufferSizeMismatch if len(dst) != numQueries.
func (m *Metadata) IndexMap(dst []int32, query []int32, pixelDist coords.Vec) error {
	rowLen := m.dims + 1
	if len(query)%rowLen != 0 {
		return errors.Wrapf(ErrDimensionMismatch, "query with %d values is not a multiple of %d (dims+1)",
			len(query), rowLen)
	}
	numQueries := len(query) / rowLen
	if len(dst) != numQueries {
		return errors.Wrapf(ErrBufferSizeMismatch, "buffer for %d queries has %d elements", numQueries, len(dst))
	}
	im, err := m.CoordMap(pixelDist)
	if err != nil {
		return err
	}
	for ii := range numQueries {
		row, found := im.Lookup(coords.KeyFromRow(query[ii*rowLen : (ii+1)*rowLen]))
		if !found {
			row = -1
		}
		dst[ii] = int32(row)
	}
	return nil
}

// Permutation maps each row of the coordinates at srcPixelDist to the row of the coordinates at dstPixelDist
// that contains it (the source coordinate rounded down to the destination grid), or -1 if not present.
// The all-zero dstPixelDist maps to the origin row of each batch.
//
// It returns ErrBufferSizeMismatch if len(dst) is not the number of source rows.
func (m *Metadata) Permutation(dst []int32, srcPixelDist, dstPixelDist coords.Vec) error {
	if err := m.checkVec("destination pixel distance", dstPixelDist); err != nil {
		return err
	}
	src, err := m.CoordMap(srcPixelDist)
	if err != nil {
		return err
	}
	target, err := m.CoordMap(dstPixelDist)
	if err != nil {
		return err
	}
	if len(dst) != src.Len() {
		return errors.Wrapf(ErrBufferSizeMismatch, "buffer for %d source rows has %d elements", src.Len(), len(dst))
	}
	isOrigin := dstPixelDist.IsZero()
	for ii, key := range src.Rows() {
		if isOrigin {
			key = key.Origin()
		} else {
			key = key.Align(dstPixelDist)
		}
		row, found := target.Lookup(key)
		if !found {
			row = -1
		}
		dst[ii] = int32(row)
	}
	return nil
}

// Resolutions returns the pixel distances with registered coordinates, sorted.
func (m *Metadata) Resolutions() []coords.Vec {
	m.mu.Lock()
	defer m.mu.Unlock()
	resolutions := make([]coords.Vec, 0, len(m.coordMaps))
	for pixelDist := range m.coordMaps {
		resolutions = append(resolutions, pixelDist)
	}
	slices.SortFunc(resolutions, func(a, b coords.Vec) int {
		return slices.Compare(a.Values(), b.Values())
	})
	return resolutions
}

// Stats summarizes the contents of a scope.
type Stats struct {
	NumResolutions, NumCoords int
	NumKernelMaps, NumPairs   int

	// NumBuilds counts the kernel maps built since the scope was created, including the ones dropped by Clear.
	NumBuilds int

	// MemoryBytes used by the in/out index lists.
	MemoryBytes uint64
}

// Stats returns a summary of the scope contents.
func (m *Metadata) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		NumResolutions: len(m.coordMaps),
		NumKernelMaps:  len(m.kernelMaps),
		NumBuilds:      m.numBuilds,
	}
	for _, im := range m.coordMaps {
		stats.NumCoords += im.Len()
	}
	for _, cached := range m.kernelMaps {
		stats.NumPairs += cached.m.NumPairs()
		stats.MemoryBytes += cached.m.MemoryBytes()
	}
	return stats
}

// Clear drops all coordinates and kernel maps. The backend is kept.
func (m *Metadata) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedClear()
}

func (m *Metadata) lockedClear() {
	clear(m.coordMaps)
	clear(m.kernelMaps)
}

// Release drops all the contents of the scope and finalizes its backend, if one was created.
// The scope can't be used afterwards, and further calls to Release are no-ops.
func (m *Metadata) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.lockedClear()
	if m.backend != nil {
		m.backend.Finalize()
		m.backend = nil
	}
	m.released = true
}
