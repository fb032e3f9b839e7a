// buddy-demo exercises the allocator with a scripted sequence against both
// metadata placements and dumps the allocator state between steps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/buddyarena/buddy"
	"github.com/nmxmxh/buddyarena/region"
)

var regionSize int

func main() {
	root := &cobra.Command{
		Use:   "buddy-demo",
		Short: "Scripted walk through the buddy allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, regionSize)
		},
		SilenceUsage: true,
	}
	root.Flags().IntVar(&regionSize, "size", 512, "region size in bytes (power of two)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, size int) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "test external metadata allocator")
	provider, err := region.NewAligned(size)
	if err != nil {
		return err
	}
	allocator, err := buddy.New(provider.Bytes())
	if err != nil {
		return err
	}
	if err := script(cmd, allocator); err != nil {
		return err
	}

	fmt.Fprintln(out, "testing block sized allocations")
	blocks := make([][]byte, 0, allocator.Levels()-1)
	for level := 1; level < allocator.Levels(); level++ {
		blocks = append(blocks, allocator.Alloc(size>>level))
	}
	for _, block := range blocks {
		allocator.Free(block)
	}
	fmt.Fprintln(out, "terminating state")
	allocator.DumpTo(out)

	fmt.Fprintln(out, "testing internal metadata allocator")
	hosted, err := buddy.Create(provider.Bytes())
	if err != nil {
		return err
	}
	return script(cmd, hosted)
}

// script runs the canonical alloc/free sequence: four allocations that
// round to 32, 32, 64 and 16 bytes, then frees them out of order.
func script(cmd *cobra.Command, allocator *buddy.Allocator) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "starting state")
	allocator.DumpTo(out)

	p1 := allocator.Alloc(32)
	p2 := allocator.Alloc(31)
	p3 := allocator.Alloc(33)
	p4 := allocator.Alloc(8)
	for i, p := range [][]byte{p1, p2, p3, p4} {
		if p == nil {
			return fmt.Errorf("allocation %d failed", i+1)
		}
	}

	fmt.Fprintln(out, "outstanding blocks")
	allocator.DumpTo(out)

	allocator.Free(p3)
	allocator.Free(p2)
	allocator.Free(p1)
	allocator.Free(p4)

	fmt.Fprintln(out, "terminating state")
	allocator.DumpTo(out)
	return nil
}
