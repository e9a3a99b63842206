package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/internal/observer"
	"github.com/calvinalkan/casino-ipc/internal/player"
	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

const inspectPrompt = "casino> "

var errQuit = errors.New("quit")

// InspectCmd returns the inspect command.
func InspectCmd(e *env) *Command {
	return &Command{
		Flags:    flag.NewFlagSet("inspect", flag.ContinueOnError),
		Attaches: true,
		Usage:    "inspect",
		Short:    "Interactive snapshot inspector",
		Long: `Attach to the shared record and read commands interactively.

Type 'help' at the prompt for the list of commands. When stdin is not a
terminal, commands are read line by line without a prompt.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			reader, err := casino.Attach(ctx, e.sessionOptions())
			if err != nil {
				return err
			}

			r := &inspector{env: e, reader: reader, out: o.Out()}
			defer r.close()

			if in, ok := o.In().(*os.File); ok && in == os.Stdin && liner.TerminalSupported() {
				return r.runTerminal(ctx)
			}

			return r.runLines(ctx, o.In())
		},
	}
}

// inspector is the inspect REPL. The bet link is opened on first use.
type inspector struct {
	env    *env
	reader *casino.Reader
	link   *player.Link
	out    io.Writer
}

func (r *inspector) close() {
	if r.link != nil {
		_ = r.link.Close()
	}

	_ = r.reader.Close()
}

func (r *inspector) runTerminal(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(completeInspect)

	if f, err := os.Open(inspectHistoryFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if path := inspectHistoryFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				_ = f.Close()
			}
		}
	}()

	fmt.Fprintln(r.out, "casino inspector, attached to", r.reader.Path())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")

	for ctx.Err() == nil {
		input, err := line.Prompt(inspectPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if err := r.execLine(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}

			fmt.Fprintln(r.out, "error:", err)
		}
	}

	return nil
}

func (r *inspector) runLines(ctx context.Context, in io.Reader) error {
	if in == nil {
		return nil
	}

	sc := bufio.NewScanner(in)

	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.execLine(ctx, sc.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}

			fmt.Fprintln(r.out, "error:", err)
		}
	}

	return sc.Err()
}

// execLine runs one REPL command. It returns errQuit to end the session.
func (r *inspector) execLine(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		r.printHelp()

		return nil
	case "snapshot", "s":
		rec, err := r.snapshot()
		if err != nil {
			return err
		}

		return observer.WriteText(r.out, rec)
	case "json":
		rec, err := r.snapshot()
		if err != nil {
			return err
		}

		data, err := observer.MarshalView(rec)
		if err != nil {
			return err
		}

		_, err = r.out.Write(data)

		return err
	case "player", "p":
		return r.cmdPlayer(args)
	case "diag":
		return r.cmdDiag()
	case "bet":
		return r.cmdBet(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (r *inspector) snapshot() (casino.Record, error) {
	replaced, err := r.reader.Replaced()
	if err == nil && replaced {
		fmt.Fprintln(r.out, "note: the server restarted; this view is frozen, restart inspect to follow it")
	}

	return r.reader.Snapshot()
}

func (r *inspector) cmdPlayer(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: player <id>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: %q", player.ErrInvalidID, args[0])
	}

	rec, err := r.snapshot()
	if err != nil {
		return err
	}

	if id < 0 || id >= int(rec.PlayerCount) {
		return fmt.Errorf("%w: %d (session has %d players)", player.ErrInvalidID, id, rec.PlayerCount)
	}

	p := rec.Players[id]

	fmt.Fprintf(r.out, "player %d at (%.1f, %.1f)\n", p.ID, p.X, p.Y)
	fmt.Fprintf(r.out, "  anim %s  pulse %.2f\n", p.Anim, p.Pulse)
	fmt.Fprintf(r.out, "  symbols %s %s %s\n", p.Symbols[0], p.Symbols[1], p.Symbols[2])
	fmt.Fprintf(r.out, "  spinning %v  progress %.2f\n", p.Spinning, p.SpinProgress)
	fmt.Fprintf(r.out, "  last payout %d  last delta %+d  last bet %d\n", p.LastPayout, p.LastDelta, p.LastBetAmount)

	return nil
}

func (r *inspector) cmdDiag() error {
	rec, err := r.snapshot()
	if err != nil {
		return err
	}

	d := rec.Diag

	fmt.Fprintf(r.out, "session         %s\n", rec.Session)
	fmt.Fprintf(r.out, "owner pid       %d\n", rec.OwnerPID)
	fmt.Fprintf(r.out, "lock last held  %s\n", d.LockLastHeld.Format("15:04:05.000"))
	fmt.Fprintf(r.out, "lock recoveries %d\n", d.LockRecoveries)
	fmt.Fprintf(r.out, "signal value    %d\n", d.SignalValue)
	fmt.Fprintf(r.out, "channel depth   %d\n", d.ChannelDepth)
	fmt.Fprintf(r.out, "invalid bets    %d\n", d.InvalidBets)
	fmt.Fprintf(r.out, "cooldown drops  %d\n", d.CooldownDrops)

	return nil
}

func (r *inspector) cmdBet(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	amount := int64(player.DefaultBetMin)

	if len(args) > 1 {
		amount, err = strconv.ParseInt(args[1], 10, 32)
		if err != nil || amount < 0 {
			return fmt.Errorf("%w: amount %q", casino.ErrInvalidInput, args[1])
		}
	}

	if r.link == nil {
		r.link, err = player.Connect(ctx, r.env.sessionOptions(), r.env.log)
		if err != nil {
			return err
		}
	}

	if err := r.link.Channel.Send(casino.BetMessage{PlayerID: int32(id), Amount: int32(amount)}); err != nil {
		return err
	}

	if r.link.Signal != nil {
		_ = r.link.Signal.Raise()
	}

	fmt.Fprintf(r.out, "sent bet player=%d amount=%d\n", id, amount)

	return nil
}

func (r *inspector) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  snapshot, s            Show the current record")
	fmt.Fprintln(r.out, "  json                   Show the current record as JSON")
	fmt.Fprintln(r.out, "  player <id>, p <id>    Show one player")
	fmt.Fprintln(r.out, "  diag                   Show lock and channel diagnostics")
	fmt.Fprintln(r.out, "  bet <id> [amount]      Send a bet")
	fmt.Fprintln(r.out, "  help                   Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q        Exit")
}

func completeInspect(line string) []string {
	commands := []string{"snapshot", "json", "player", "diag", "bet", "help", "exit", "quit"}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func inspectHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".casino_history")
}
