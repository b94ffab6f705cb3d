package recognizer

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandPlatform runs a host-installed recognizer process per pass. The
// process captures its own audio and prints one final segment per stdout
// line; process exit is the natural end of the utterance stream. The
// string "{language}" in Args is replaced by the session language.
type CommandPlatform struct {
	Path string
	Args []string
}

func (p *CommandPlatform) Start(ctx context.Context, language string) (Run, error) {
	if p.Path == "" {
		return nil, fmt.Errorf("no local recognizer configured")
	}

	args := make([]string, len(p.Args))
	for i, arg := range p.Args {
		args[i] = strings.ReplaceAll(arg, "{language}", language)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, p.Path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognizer stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognizer %q: %w", p.Path, err)
	}

	run := &commandRun{
		cancel:  cancel,
		results: make(chan string, 16),
		done:    make(chan error, 1),
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case run.results <- line:
			case <-runCtx.Done():
			}
		}
		close(run.results)
		run.done <- cmd.Wait()
	}()

	return run, nil
}

type commandRun struct {
	cancel  context.CancelFunc
	results chan string
	done    chan error
	once    sync.Once
}

func (r *commandRun) Results() <-chan string {
	return r.results
}

func (r *commandRun) Done() <-chan error {
	return r.done
}

func (r *commandRun) Stop() {
	r.once.Do(r.cancel)
}
