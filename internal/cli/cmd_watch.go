package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/internal/observer"
)

// WatchCmd returns the watch command.
func WatchCmd(e *env) *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.Duration("interval", e.cfg.Watch.Interval.Std(), "Polling interval")
	fs.Int("count", 0, "Stop after N snapshots (0: until interrupted)")
	fs.Bool("json", false, "Print one JSON object per snapshot")
	fs.String("dump", "", "Atomically rewrite `file` with the latest snapshot")
	fs.Bool("quiet", false, "Do not print snapshots (use with --dump)")

	return &Command{
		Flags:    fs,
		Attaches: true,
		Usage:    "watch [flags]",
		Short:    "Poll and print snapshots",
		Long: `Attach to the shared record and print a snapshot every interval.

Follows server restarts. With --dump, the latest snapshot is also written as
JSON to a file that is replaced atomically, for external viewers.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			interval, _ := fs.GetDuration("interval")
			count, _ := fs.GetInt("count")
			asJSON, _ := fs.GetBool("json")
			dump, _ := fs.GetString("dump")
			quiet, _ := fs.GetBool("quiet")

			w := observer.New(observer.Attacher(e.sessionOptions()), o.Out(), observer.Options{
				Interval: interval,
				Count:    count,
				JSON:     asJSON,
				Quiet:    quiet,
				DumpPath: dump,
				Log:      e.log,
			})

			return w.Run(ctx)
		},
	}
}
