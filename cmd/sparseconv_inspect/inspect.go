// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/sparseconv/internal/workerspool"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/gomlx/sparseconv/pkg/core/region"
	"github.com/gomlx/sparseconv/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// config of one inspection.
type config struct {
	levels                   int
	kernel, stride, dilation []int
	region                   string
	duplicates               bool
	workers                  int

	// progress is where the progress bar is written to.
	progress io.Writer
}

// readCoords parses one coordinate per line, and returns them flat with the number of spatial dimensions,
// inferred from the first line.
func readCoords(r io.Reader) (flat []int32, dims int, err error) {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if dims == 0 {
			dims = len(fields) - 1
			if dims < 1 || dims > coords.MaxDims {
				return nil, 0, errors.Errorf("line %d: %d values per coordinate, expected between 2 and %d (spatial components and batch)",
					lineNum, len(fields), coords.MaxDims+1)
			}
		} else if len(fields) != dims+1 {
			return nil, 0, errors.Errorf("line %d: %d values per coordinate, previous lines had %d", lineNum, len(fields), dims+1)
		}
		for _, field := range fields {
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "line %d", lineNum)
			}
			flat = append(flat, int32(v))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read coordinates")
	}
	if dims == 0 {
		return nil, 0, errors.New("no coordinates found")
	}
	return flat, dims, nil
}

// levelStats are the results of one level of the pyramid.
type levelStats struct {
	pixelDist            coords.Vec
	numIn, numOut        int
	numOffsets, numPairs int
	memory               uint64
}

// buildPyramid registers the coordinates and builds the kernel maps of each level, where each level's output is
// the input of the next one. It also builds the global map of the finest level.
func buildPyramid(md *metadata.Metadata, flat []int32, cfg config) (levels []levelStats, numBatches int, err error) {
	dims := md.Dims()
	toVec := func(name string, values []int) (coords.Vec, error) {
		v, err := coords.MakeVec(dims, values...)
		return v, errors.WithMessagef(err, "flag -%s", name)
	}
	kernel, err := toVec("kernel", cfg.kernel)
	if err != nil {
		return
	}
	stride, err := toVec("stride", cfg.stride)
	if err != nil {
		return
	}
	dilation, err := toVec("dilation", cfg.dilation)
	if err != nil {
		return
	}
	var r region.Region
	switch cfg.region {
	case "cube":
		r.Type = region.Hypercube
	case "cross":
		r.Type = region.Hypercross
	default:
		err = errors.Errorf("unknown region %q, use \"cube\" or \"cross\"", cfg.region)
		return
	}

	pixelDist, _ := coords.MakeVec(dims, 1)
	if cfg.duplicates {
		err = md.InitializeCoordsWithDuplicates(flat, pixelDist)
	} else {
		err = md.InitializeCoords(flat, pixelDist)
	}
	if err != nil {
		return
	}

	bar := progressbar.NewOptions(cfg.levels+1,
		progressbar.OptionSetDescription("building kernel maps"),
		progressbar.OptionSetWriter(cfg.progress),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	for range cfg.levels {
		key := metadata.GeometryKey{PixelDist: pixelDist, Stride: stride, KernelSize: kernel, Dilation: dilation}
		km, err := md.InitializeKernelMap(key, r)
		if err != nil {
			return nil, 0, errors.WithMessagef(err, "level %d", len(levels))
		}
		outPixelDist, err := key.OutPixelDist()
		if err != nil {
			return nil, 0, err
		}
		stats := levelStats{
			pixelDist:  pixelDist,
			numOffsets: km.NumOffsets(),
			numPairs:   km.NumPairs(),
			memory:     km.MemoryBytes(),
		}
		if stats.numIn, err = md.NumCoords(pixelDist); err != nil {
			return nil, 0, err
		}
		if stats.numOut, err = md.NumCoords(outPixelDist); err != nil {
			return nil, 0, err
		}
		levels = append(levels, stats)
		pixelDist = outPixelDist
		_ = bar.Add(1)
	}

	finest, _ := coords.MakeVec(dims, 1)
	if _, err = md.InitializeGlobalMap(finest); err != nil {
		return nil, 0, err
	}
	numBatches, err = md.NumCoords(coords.ZeroVec(dims))
	_ = bar.Add(1)
	return levels, numBatches, err
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// inspect reads the coordinates from r, builds the pyramid and writes the report to w.
func inspect(w io.Writer, r io.Reader, cfg config) error {
	flat, dims, err := readCoords(r)
	if err != nil {
		return err
	}
	md, err := metadata.New(dims)
	if err != nil {
		return err
	}
	defer md.Release()
	md.WithPool(workerspool.NewWithParallelism(cfg.workers))

	levels, numBatches, err := buildPyramid(md, flat, cfg)
	if err != nil {
		return err
	}

	stats := md.Stats()
	_, _ = fmt.Fprintln(w, titleStyle.Render("Summary"))
	summary := newPlainTable(false)
	summary.Row("dimensions", strconv.Itoa(dims))
	summary.Row("# input rows", humanize.Comma(int64(len(flat)/(dims+1))))
	summary.Row("# batches", humanize.Comma(int64(numBatches)))
	summary.Row("# resolutions", humanize.Comma(int64(stats.NumResolutions)))
	summary.Row("# kernel maps", humanize.Comma(int64(stats.NumKernelMaps)))
	summary.Row("# pairs", humanize.Comma(int64(stats.NumPairs)))
	summary.Row("maps memory", humanize.Bytes(stats.MemoryBytes))
	_, _ = fmt.Fprintln(w, summary.Render())

	_, _ = fmt.Fprintln(w, titleStyle.Render("Levels"))
	table := newPlainTable(true)
	table.Row("Level", "Pixel distance", "# Input", "# Output", "# Offsets", "# Pairs", "Pairs/Input", "Memory")
	for ii, level := range levels {
		table.Row(
			strconv.Itoa(ii),
			level.pixelDist.String(),
			humanize.Comma(int64(level.numIn)),
			humanize.Comma(int64(level.numOut)),
			strconv.Itoa(level.numOffsets),
			humanize.Comma(int64(level.numPairs)),
			fmt.Sprintf("%.2f", float64(level.numPairs)/float64(level.numIn)),
			humanize.Bytes(level.memory),
		)
	}
	_, _ = fmt.Fprintln(w, table.Render())

	pairs := xslices.Map(levels, func(l levelStats) int { return l.numPairs })
	_, _ = fmt.Fprintf(w, "largest level: %s pairs\n", humanize.Comma(int64(xslices.Max(pairs))))
	_, _ = fmt.Fprintf(w, "total: %s pairs\n", humanize.Comma(int64(xslices.Sum(pairs))))
	return nil
}
