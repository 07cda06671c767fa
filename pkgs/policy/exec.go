package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

const defaultExecTimeout = 30 * time.Second

type execEvaluator struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExec returns an Evaluator that runs the given command once per
// evaluation, writing the api.Request as JSON on its stdin and
// reading an api.Response as JSON from its stdout. A non-zero exit or
// a run exceeding the timeout is an evaluation failure.
func NewExec(command string, args []string, timeout time.Duration) Evaluator {

	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	return &execEvaluator{
		command: command,
		args:    args,
		timeout: timeout,
	}
}

func (p *execEvaluator) Evaluate(ctx context.Context, preq api.Request) (api.Response, error) {

	input, err := json.Marshal(preq)
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to encode evaluation request: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(sctx, p.command, p.args...) // #nosec G204
	cmd.Env = os.Environ()
	cmd.Stdin = bytes.NewReader(input)

	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if sctx.Err() != nil {
			return api.Response{}, fmt.Errorf("evaluator timed out after %s", p.timeout)
		}
		return api.Response{}, fmt.Errorf("unable to run evaluator: %w (stderr: %s)", err, stderr.String())
	}

	sresp := api.Response{}
	if err := json.Unmarshal(stdout.Bytes(), &sresp); err != nil {
		return api.Response{}, fmt.Errorf("unable to decode evaluator output: %w", err)
	}

	if err := sresp.Decision.Validate(); err != nil {
		return api.Response{}, fmt.Errorf("invalid evaluator decision: %w", err)
	}

	return sresp, nil
}
