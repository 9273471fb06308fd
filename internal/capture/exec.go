// Package capture turns PDFs and web pages into images the model can read.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kkk0312/mdia/internal/logging"
	"github.com/rs/zerolog/log"
)

// Available reports whether the named executable is on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// runCmd runs name in dir and returns its stdout. Stderr is folded into the
// error, and echoed at debug level.
func runCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running capture command")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if logging.DebugEnabled() && stderr.Len() > 0 {
		log.Debug().Str("cmd", name).Str("stderr", strings.TrimSpace(stderr.String())).Msg("capture command stderr")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
