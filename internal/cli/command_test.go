package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

func failingCommand(attaches bool, err error) *Command {
	return &Command{
		Flags:    flag.NewFlagSet("fail", flag.ContinueOnError),
		Attaches: attaches,
		Usage:    "fail",
		Short:    "Always fails",
		Exec: func(context.Context, *IO, []string) error {
			return err
		},
	}
}

func Test_Command_Run_Maps_Errors_To_Exit_Codes(t *testing.T) {
	t.Parallel()

	noServer := fmt.Errorf("attach: %w", casino.ErrSegmentUnavailable)
	taken := fmt.Errorf("%w: /dev/shm/casino_ipc.owner", shm.ErrOwnerActive)

	tests := []struct {
		name     string
		attaches bool
		err      error
		code     int
		hint     string
	}{
		{name: "missing server", attaches: true, err: noServer, code: exitNoServer, hint: "casino server"},
		{name: "missing segment while creating", attaches: false, err: noServer, code: exitFailure},
		{name: "owner active", attaches: false, err: taken, code: exitOwnerActive, hint: "--namespace"},
		{name: "other error", attaches: true, err: errors.New("boom"), code: exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer

			code := failingCommand(tt.attaches, tt.err).Run(context.Background(), NewIO(nil, &stdout, &stderr), nil)

			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr.String(), "error: "+tt.err.Error())

			if tt.hint == "" {
				assert.NotContains(t, stderr.String(), "hint:")
			} else {
				assert.Contains(t, stderr.String(), "hint:")
				assert.Contains(t, stderr.String(), tt.hint)
			}

			assert.Empty(t, stdout.String())
		})
	}
}

func Test_Command_Run_Returns_Zero_On_Help(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer

	code := failingCommand(true, nil).Run(context.Background(), NewIO(nil, &stdout, &bytes.Buffer{}), []string{"--help"})

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "Usage: casino fail")
}
