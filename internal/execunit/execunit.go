// Package execunit turns a shell command into a unit of work: one run per
// item, with the item exposed through environment variables.
package execunit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"fleetwatch/internal/agent"
	"fleetwatch/internal/codec"
)

const (
	EnvItem     = "FLEETWATCH_ITEM"
	EnvPosition = "FLEETWATCH_POSITION"
	EnvTotal    = "FLEETWATCH_TOTAL"
)

// DefaultMaxLineBytes bounds one line of command output.
const DefaultMaxLineBytes = 1024 * 1024

type Runner struct {
	Command string
	Shell   string
	Dir     string
	Env     []string
	// MaxLineBytes defaults to DefaultMaxLineBytes. A longer line fails the
	// unit; the rest of the output is still drained.
	MaxLineBytes int
}

// Work runs the command for one unit. Stdout lines are logged at INFO and
// stderr lines at ERROR. When the last stdout line is a JSON object, its
// numeric values become the unit's result fields.
func (r Runner) Work() agent.WorkFunc {
	return func(ctx context.Context, unit agent.Unit, log *agent.UnitLog) (agent.Result, error) {
		if strings.TrimSpace(r.Command) == "" {
			return agent.Result{}, fmt.Errorf("no command configured")
		}
		shell := r.Shell
		if shell == "" {
			shell = "sh"
		}
		cmd := exec.CommandContext(ctx, shell, "-c", r.Command)
		cmd.Dir = r.Dir
		cmd.Env = append(append(os.Environ(), r.Env...),
			EnvItem+"="+unit.ID,
			EnvPosition+"="+strconv.Itoa(unit.Position),
			EnvTotal+"="+strconv.Itoa(unit.Total),
		)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return agent.Result{}, fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return agent.Result{}, fmt.Errorf("stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return agent.Result{}, fmt.Errorf("start %s: %w", shell, err)
		}

		maxLine := r.MaxLineBytes
		if maxLine <= 0 {
			maxLine = DefaultMaxLineBytes
		}
		var (
			wg               sync.WaitGroup
			lastOut, lastErr string
			outScan, errScan error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			lastOut, outScan = scanLines(stdout, maxLine, log.WithSource("stdout").Info)
		}()
		go func() {
			defer wg.Done()
			lastErr, errScan = scanLines(stderr, maxLine, log.WithSource("stderr").Error)
		}()
		wg.Wait()

		if err := cmd.Wait(); err != nil {
			if lastErr != "" {
				return agent.Result{}, fmt.Errorf("%w: %s", err, lastErr)
			}
			return agent.Result{}, err
		}
		if outScan != nil {
			return agent.Result{}, fmt.Errorf("read stdout: %w", outScan)
		}
		if errScan != nil {
			return agent.Result{}, fmt.Errorf("read stderr: %w", errScan)
		}
		return agent.Result{Fields: ParseFields(lastOut)}, nil
	}
}

// scanLines emits every non-blank line and returns the last one. On a scan
// error the remaining output is discarded so the child never blocks on a
// full pipe.
func scanLines(r io.Reader, maxLine int, emit func(format string, args ...any)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	last := ""
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		emit("%s", line)
		last = line
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return last, err
	}
	return last, nil
}

// ParseFields reads the numeric values of a JSON object line. Anything else
// yields nil.
func ParseFields(line string) map[string]float64 {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return nil
	}
	var raw map[string]any
	if err := codec.UnmarshalString(line, &raw); err != nil {
		return nil
	}
	fields := make(map[string]float64, len(raw))
	for key, value := range raw {
		if number, ok := value.(float64); ok {
			fields[key] = number
		}
	}
	return fields
}

// ReadItems loads one item per line, skipping blanks and # comments.
func ReadItems(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open items %s: %w", path, err)
	}
	defer f.Close()

	items := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items %s: %w", path, err)
	}
	return items, nil
}
