// Package build drives the Klipper build toolchain (make menuconfig,
// make clean, make -jN) as opaque external subprocesses, with timeouts and
// output capture. Grounded on the teacher's modern/flash.go, which already
// shows the shape of "drive an external step, capture output, report a
// progress callback, respect ctx cancellation" — generalized here from
// serial commands to os/exec subprocesses.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/types"
)

// CleanTimeout and CompileTimeout are the spec.md §4.4 ceilings.
const (
	CleanTimeout   = 300 * time.Second
	CompileTimeout = 300 * time.Second

	// tailLines bounds how much of a failing step's output BuildResult
	// retains, per spec.md §4.4 ("truncated to a tail of ≈4096 lines").
	tailLines = 4096
	// summaryLines is how many lines SummaryTail keeps for inline display
	// (spec.md: "≈ last 20 lines").
	summaryLines = 20
)

// Driver invokes the build toolchain rooted at klipperDir.
type Driver struct {
	klipperDir string
	makeBin    string
}

// New returns a Driver whose subprocesses run with klipperDir as the
// working directory.
func New(klipperDir string) *Driver {
	return &Driver{klipperDir: klipperDir, makeBin: "make"}
}

// EditConfig opens the interactive config editor (`make menuconfig`) with
// inherited stdio and no timeout — it is a user-driven terminal UI.
func (d *Driver) EditConfig(ctx context.Context, workspace string) error {
	cmd := exec.CommandContext(ctx, d.makeBin, "menuconfig")
	cmd.Dir = d.klipperDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build: menuconfig: %w: %v", kferrors.ErrEditorFailed, err)
	}
	return nil
}

// Clean runs `make clean` with a 300-second ceiling.
func (d *Driver) Clean(ctx context.Context, workspace string) (types.BuildResult, error) {
	return d.run(ctx, []string{"clean"}, CleanTimeout, false, kferrors.ErrCleanFailed)
}

// Compile runs the parallel compile step with a 300-second ceiling. In
// quiet mode output is captured and nothing streams to the user; in loud
// mode output streams to the user and is also captured. In both modes the
// captured tail is returned in BuildResult.ErrorOutput only when the step
// fails; a successful result carries no output.
func (d *Driver) Compile(ctx context.Context, workspace string, quiet bool) (types.BuildResult, error) {
	jobs := strconv.Itoa(maxParallelism())
	return d.run(ctx, []string{"-j" + jobs}, CompileTimeout, quiet, kferrors.ErrCompileFailed)
}

func (d *Driver) run(ctx context.Context, args []string, timeout time.Duration, quiet bool, failKind error) (types.BuildResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.makeBin, args...)
	cmd.Dir = d.klipperDir

	var buf tailBuffer
	if quiet {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	} else {
		cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
		cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	}

	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		out := buf.String()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.BuildResult{
				Success:        false,
				ElapsedSeconds: elapsed,
				ErrorMessage:   "timed out",
				ErrorOutput:    out,
			}, fmt.Errorf("build: %w", kferrors.ErrCompileTimedOut)
		}
		return types.BuildResult{
			Success:        false,
			ElapsedSeconds: elapsed,
			ErrorMessage:   err.Error(),
			ErrorOutput:    out,
		}, fmt.Errorf("build: %w: %v", failKind, err)
	}

	return types.BuildResult{Success: true, ElapsedSeconds: elapsed}, nil
}

// LocateArtifact checks that the expected firmware artifact exists after a
// successful compile and returns its size. Fails with ErrArtifactMissing if
// not found.
func (d *Driver) LocateArtifact(artifactPath string) (int64, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return 0, fmt.Errorf("build: %s: %w", artifactPath, kferrors.ErrArtifactMissing)
	}
	return info.Size(), nil
}

// ArtifactPath returns the conventional output location of a Klipper build
// rooted at klipperDir ("out/klipper.bin").
func (d *Driver) ArtifactPath() string {
	return filepath.Join(d.klipperDir, "out", "klipper.bin")
}

// SummaryTail returns the last ~20 lines of a captured output blob, for
// inline display; the full blob is retained separately for diagnosis.
func SummaryTail(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= summaryLines {
		return output
	}
	return strings.Join(lines[len(lines)-summaryLines:], "\n")
}

// tailBuffer keeps only the last tailLines lines written to it, matching
// spec.md's "truncated to a tail of ≈4096 lines if larger".
type tailBuffer struct {
	lines []string
	carry bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.carry.Write(p)
	for {
		line, err := b.carry.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back for the next Write.
			b.carry.Reset()
			b.carry.WriteString(line)
			break
		}
		b.append(strings.TrimSuffix(line, "\n"))
	}
	return len(p), nil
}

func (b *tailBuffer) append(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > tailLines {
		b.lines = b.lines[len(b.lines)-tailLines:]
	}
}

func (b *tailBuffer) String() string {
	lines := b.lines
	if b.carry.Len() > 0 {
		lines = append(lines, b.carry.String())
	}
	return strings.Join(lines, "\n")
}

func maxParallelism() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
