package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// LayoutCmd returns the layout command.
func LayoutCmd(_ *env) *Command {
	fs := flag.NewFlagSet("layout", flag.ContinueOnError)
	fs.String("segment", "", "Only show fields of this segment (state, player, channel, signal)")

	return &Command{
		Flags: fs,
		Usage: "layout [--segment name]",
		Short: "Print the shared memory wire layout",
		Long:  "Print offset, size and type of every field in the shared segments, for writing compatible readers.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			only, _ := fs.GetString("segment")

			sizes := casino.SegmentSizes()

			current := ""

			for _, f := range casino.Layout() {
				if only != "" && f.Segment != only {
					continue
				}

				if f.Segment != current {
					if current != "" {
						o.Println()
					}

					current = f.Segment
					o.Printf("# %s (%d bytes)\n", f.Segment, sizes[f.Segment])
				}

				o.Printf("0x%04x %4d  %-16s %s\n", f.Offset, f.Size, f.Name, f.Type)
			}

			if current == "" {
				o.Warn("no fields matched --segment "+only, "use state, player, channel or signal")
			}

			return nil
		},
	}
}
