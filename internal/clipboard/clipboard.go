// Package clipboard copies answers and transcripts to the system clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	ErrToolNotFound = errors.New("clipboard tool not found")
	ErrEmpty        = errors.New("nothing to copy")
)

type Command struct {
	Path string
	Args []string
}

func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	switch goos {
	case "darwin":
		if path, err := lookPath("pbcopy"); err == nil {
			return Command{Path: path}, nil
		}
	case "windows":
		if path, err := lookPath("clip"); err == nil {
			return Command{Path: path}, nil
		}
	case "linux", "freebsd", "openbsd":
		if path, err := lookPath("wl-copy"); err == nil {
			return Command{Path: path}, nil
		}
		if path, err := lookPath("xclip"); err == nil {
			return Command{Path: path, Args: []string{"-selection", "clipboard"}}, nil
		}
		if path, err := lookPath("xsel"); err == nil {
			return Command{Path: path, Args: []string{"--clipboard", "--input"}}, nil
		}
	}
	return Command{}, ErrToolNotFound
}

// Copier writes text through the platform clipboard tool.
type Copier struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, cmd Command, text string) error
}

func New() *Copier {
	return NewFor(runtime.GOOS, exec.LookPath)
}

// NewFor builds a Copier for the given platform and tool lookup.
func NewFor(goos string, lookPath func(string) (string, error)) *Copier {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &Copier{goos: goos, lookPath: lookPath, run: runCommand}
}

// Method reports which tool Copy would run on this machine.
func (c *Copier) Method() string {
	if cmd, err := SelectCommand(c.goos, c.lookPath); err == nil {
		return cmd.Path
	}
	return "osc52"
}

// Copy returns ErrToolNotFound when no tool is installed; callers that own
// the terminal can send OSC52(text) instead.
func (c *Copier) Copy(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	cmd, err := SelectCommand(c.goos, c.lookPath)
	if err != nil {
		return err
	}
	return c.run(ctx, cmd, text)
}

// OSC52 is the terminal escape sequence asking the terminal emulator to put
// text on the system clipboard.
func OSC52(text string) string {
	return ansi.SetSystemClipboard(text)
}

func runCommand(ctx context.Context, def Command, text string) error {
	cmd := exec.CommandContext(ctx, def.Path, def.Args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("clipboard command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}
