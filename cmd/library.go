package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quenchlab/facet/core/signature"
)

var libraryTop int

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect saved signature library archives",
}

var libraryInspectCmd = &cobra.Command{
	Use:   "inspect ARCHIVE",
	Short: "Summarize a signature library archive",
	Long: `Print the signature count, descriptor dimension, and origin of a saved
library archive, followed by the most frequent signatures.

Examples:
  facet library inspect signatures.msgpack
  facet library inspect --top 25 signatures.msgpack`,
	Args: cobra.ExactArgs(1),
	RunE: runLibraryInspect,
}

func init() {
	libraryInspectCmd.Flags().IntVar(&libraryTop, "top", 10, "number of most frequent signatures to list")
	libraryCmd.AddCommand(libraryInspectCmd)
	rootCmd.AddCommand(libraryCmd)
}

func runLibraryInspect(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	lib, err := signature.Load(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "archive:     %s\n", args[0])
	fmt.Fprintf(out, "origin:      %s\n", lib.Origin())
	fmt.Fprintf(out, "signatures:  %d\n", lib.Len())
	fmt.Fprintf(out, "descriptor:  %d components\n", lib.Dim())

	idx := make([]int, lib.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lib.At(idx[a]).Count > lib.At(idx[b]).Count
	})
	if len(idx) > libraryTop {
		idx = idx[:libraryTop]
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-8s %-10s %-12s %s\n", "index", "count", "clustersize", "key")
	for _, i := range idx {
		s := lib.At(i)
		fmt.Fprintf(out, "%-8d %-10d %-12d %s\n", s.Index, s.Count, s.ClusterSize, s.Key)
	}
	return nil
}
