package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// CleanCmd returns the clean command.
func CleanCmd(e *env) *Command {
	return &Command{
		Flags: flag.NewFlagSet("clean", flag.ContinueOnError),
		Usage: "clean",
		Short: "Remove the shared segments",
		Long: `Remove the state segment, bet channel and wake signal of the namespace.

Use after a crash left stale names behind. Names that are already absent are
not an error, so clean can be run any number of times.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			opts := e.sessionOptions()
			present := casino.Present(opts)

			if err := casino.DestroyAll(opts); err != nil {
				return err
			}

			removed := 0

			for _, name := range []string{opts.Names().State, opts.Names().Channel, opts.Names().Signal} {
				if present[name] {
					o.Println("removed", casino.SegmentPath(opts, name))

					removed++
				}
			}

			if removed == 0 {
				o.Println("nothing to remove")
			}

			return nil
		},
	}
}
