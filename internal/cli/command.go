package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitNoServer    = 3
	exitOwnerActive = 4
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "casino" in help.
	// Includes the command name and arguments/flags.
	// Examples: "player <id>", "watch [flags]"
	Usage string

	// Attaches marks commands that talk to a running server. When such a
	// command fails because the server's segments are missing, it exits with
	// a dedicated code and a hint instead of a bare error.
	Attaches bool

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-26s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "casino <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: casino", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return exitOK
		}
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)
		return exitFailure
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		code, hint := c.exitCode(err)
		if hint != "" {
			o.ErrPrintln("hint:", hint)
		}

		return code
	}

	return o.Finish()
}

// exitCode maps an Exec error to the process exit code and an optional hint.
func (c *Command) exitCode(err error) (int, string) {
	switch {
	case c.Attaches && errors.Is(err, casino.ErrSegmentUnavailable):
		return exitNoServer, "no server in this namespace; start one with 'casino server'"
	case errors.Is(err, shm.ErrOwnerActive):
		return exitOwnerActive, "another server owns this namespace; stop it or pass --namespace"
	default:
		return exitFailure, ""
	}
}
