package main

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"
)

var version = "0.1.0"

var versionVerbose bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mlpfit version %s\n", version)
		if versionVerbose {
			printBuildInfo(cmd.OutOrStdout())
		}
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "Show runtime and CPU feature information")
	rootCmd.AddCommand(versionCmd)
}

func printBuildInfo(w io.Writer) {
	fmt.Fprintf(w, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "cpus: %d\n", runtime.NumCPU())
	features := cpuFeatures()
	if len(features) == 0 {
		features = []string{"none detected"}
	}
	fmt.Fprintf(w, "simd: %s\n", strings.Join(features, " "))
}

// cpuFeatures lists the vector extensions used by gonum's assembly kernels.
func cpuFeatures() []string {
	var out []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse2", cpu.X86.HasSSE2},
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				out = append(out, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			out = append(out, "asimd")
		}
		if cpu.ARM64.HasSVE {
			out = append(out, "sve")
		}
	}
	return out
}
