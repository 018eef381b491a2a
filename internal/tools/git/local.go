package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// localTimeout bounds git commands run on the operator machine.
const localTimeout = 30 * time.Second

// RunLocal executes a shell command on the operator machine and maps
// the outcome onto a tool result. Non-zero exit is a tool error, not
// a Go error.
func RunLocal(ctx context.Context, command string) (*models.ToolResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case runCtx.Err() != nil && ctx.Err() == nil:
			res := models.ErrorResult(fmt.Sprintf("command timed out after %s", localTimeout))
			res.DurationSec = elapsed
			return res, nil
		default:
			res := models.ErrorResult(fmt.Sprintf("run command: %v", err))
			res.DurationSec = elapsed
			return res, nil
		}
	}

	res := &models.ToolResult{
		Output:      stdout.String(),
		Error:       stderr.String(),
		ExitCode:    &exitCode,
		DurationSec: elapsed,
	}
	if exitCode == 0 {
		res.Status = models.ToolSuccess
	} else {
		res.Status = models.ToolError
		if strings.TrimSpace(res.Error) == "" {
			res.Error = fmt.Sprintf("command failed with exit code %d", exitCode)
		}
	}
	return res, nil
}
