// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sparseconv_inspect reads sparse coordinates from a file, builds the kernel maps of a stride pyramid over them,
// and reports the number of coordinates, pairs and memory used at each level.
//
// The input file has one coordinate per line, with whitespace separated integers: the spatial components
// followed by the batch index. Empty lines and lines starting with "#" are ignored.
//
// Usage:
//
//	sparseconv_inspect -levels=4 -kernel=3 -stride=2 points.txt
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/gomlx/sparseconv/pkg/support/fsutil"
	"github.com/gomlx/sparseconv/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagLevels   = flag.Int("levels", 3, "Number of levels of the stride pyramid.")
	flagKernel   = xslices.IntsFlag(flag.CommandLine, "kernel", []int{3}, "Kernel size, one value for all axes or a comma separated value per axis.")
	flagStride   = xslices.IntsFlag(flag.CommandLine, "stride", []int{2}, "Stride between levels, one value for all axes or a comma separated value per axis.")
	flagDilation = xslices.IntsFlag(flag.CommandLine, "dilation", []int{1}, "Kernel dilation, one value for all axes or a comma separated value per axis.")
	flagRegion   = flag.String("region", "cube", `Kernel region: "cube" or "cross".`)
	flagDups     = flag.Bool("duplicates", false, "Keep repeated coordinates as separate rows.")
	flagWorkers  = flag.Int("workers", runtime.NumCPU(), "Number of workers used to build the kernel maps. 0 disables parallelism, negative is unlimited.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while building the pyramid.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one file with coordinates to read from. See 'sparseconv_inspect -help'.")
		os.Exit(1)
	}
	f := must.M1(fsutil.OpenInput(args[0]))
	defer func() { _ = f.Close() }()

	cfg := config{
		levels:     *flagLevels,
		kernel:     *flagKernel,
		stride:     *flagStride,
		dilation:   *flagDilation,
		region:     *flagRegion,
		duplicates: *flagDups,
		workers:    *flagWorkers,
		progress:   io.Discard,
	}
	if *flagProgress {
		cfg.progress = os.Stderr
	}
	if err := inspect(os.Stdout, f, cfg); err != nil {
		klog.Errorf("Failed to inspect %q: %+v", args[0], err)
		os.Exit(1)
	}
	fmt.Println()
}
