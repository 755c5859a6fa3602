package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const TargetPlaceholder = "{target}"

type CommandSpec struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

type Runner interface {
	Run(ctx context.Context, spec CommandSpec, stdout, stderr io.Writer) (int, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, spec CommandSpec, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return -1, err
}

// CommandBuilder runs one command per target. Every argument containing
// {target} has it replaced with the target name.
type CommandBuilder struct {
	Command []string
	Runner  Runner
	OSName  string

	// StopOnFailure skips the remaining targets after the first failure.
	StopOnFailure bool
}

func NewCommandBuilder(command []string, runner Runner) *CommandBuilder {
	if runner == nil {
		runner = OSRunner{}
	}
	return &CommandBuilder{
		Command: command,
		Runner:  runner,
		OSName:  runtime.GOOS,
	}
}

func (b *CommandBuilder) Build(ctx context.Context, job BuildJob) (BuildResult, error) {
	if len(b.Command) == 0 {
		return BuildResult{ExitCode: 1, Message: "no build command configured"}, errors.New("build command is empty")
	}
	if err := os.MkdirAll(filepath.Join(job.ArtifactsDir, targetDir), 0o755); err != nil {
		return BuildResult{ExitCode: 1}, fmt.Errorf("create artifacts directory: %w", err)
	}
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return BuildResult{ExitCode: 1}, fmt.Errorf("create work directory: %w", err)
	}

	consoleFile, err := os.OpenFile(filepath.Join(job.ArtifactsDir, ConsoleLog), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return BuildResult{ExitCode: 1}, fmt.Errorf("create console log: %w", err)
	}
	defer consoleFile.Close()

	var res BuildResult
	for _, target := range job.Targets {
		if err := ctx.Err(); err != nil {
			res.ExitCode = -1
			res.Message = "build interrupted"
			return res, err
		}
		report(job, target, TargetStarted, "running "+target)
		exitCode, runErr := b.runTarget(ctx, job, target, consoleFile)
		if runErr != nil && ctx.Err() != nil {
			report(job, target, TargetFailed, "interrupted")
			res.ExitCode = -1
			res.Message = "build interrupted"
			return res, ctx.Err()
		}
		if runErr != nil || exitCode != 0 {
			res.Failed = append(res.Failed, target)
			res.ExitCode = exitCode
			report(job, target, TargetFailed, fmt.Sprintf("%s exited %d", target, exitCode))
			if b.StopOnFailure {
				break
			}
			continue
		}
		report(job, target, TargetSucceeded, target+" built")
	}

	if len(res.Failed) > 0 {
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
		res.Message = fmt.Sprintf("%d of %d targets failed", len(res.Failed), len(job.Targets))
		return res, fmt.Errorf("targets failed: %s", strings.Join(res.Failed, ", "))
	}
	res.Message = fmt.Sprintf("%d targets built", len(job.Targets))
	return res, nil
}

func (b *CommandBuilder) runTarget(ctx context.Context, job BuildJob, target string, console io.Writer) (int, error) {
	logFile, err := os.OpenFile(TargetLogPath(job.ArtifactsDir, target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 1, fmt.Errorf("create target log: %w", err)
	}
	defer logFile.Close()

	out := io.MultiWriter(console, logFile)
	spec := expandCommand(b.OSName, b.Command, target, job.WorkDir)
	return b.Runner.Run(ctx, spec, out, out)
}

func expandCommand(osName string, command []string, target, workDir string) CommandSpec {
	args := make([]string, len(command))
	for i, a := range command {
		args[i] = strings.ReplaceAll(a, TargetPlaceholder, target)
	}
	env := []string{"DIAGFORGE_TARGET=" + target}
	if strings.EqualFold(osName, "windows") && isBatch(args[0]) {
		return CommandSpec{
			Name: "cmd.exe",
			Args: append([]string{"/C"}, args...),
			Dir:  workDir,
			Env:  env,
		}
	}
	return CommandSpec{Name: args[0], Args: args[1:], Dir: workDir, Env: env}
}

func isBatch(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".bat" || ext == ".cmd"
}
