// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package tc

import (
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
)

// tcFallbackPath is used when the tc binary is not on PATH.
const tcFallbackPath = "/sbin/tc"

// execRunner executes tc command lines directly, without a shell.
type execRunner struct {
	logger *logging.Logger
}

func (r *execRunner) Run(cmdline string) error {
	args, err := shellquote.Split(cmdline)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "malformed command: '%s'", cmdline)
	}
	if len(args) == 0 {
		return errors.New(errors.KindInternal, "empty command")
	}

	bin := args[0]
	if path, err := exec.LookPath(bin); err == nil {
		bin = path
	} else if bin == "tc" {
		bin = tcFallbackPath
	}

	r.logger.Debug("exec", "cmd", cmdline)
	out, err := exec.Command(bin, args[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.KindKernel, "'%s': %s",
			cmdline, strings.TrimSpace(string(out)))
	}
	return nil
}
