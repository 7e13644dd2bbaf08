// Package file implements the sandboxed filesystem tools: list_files,
// read_file and write_file.
//
// Security: every path is resolved through the sandbox root before any I/O
// occurs. A rejected path yields a SandboxViolation result naming the path
// and the filesystem is never touched.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/tools"
)

// DefaultMaxChars is the read ceiling when none is configured.
const DefaultMaxChars = 10000

// SizeUnavailable marks a listing entry whose size could not be read.
const SizeUnavailable int64 = -1

// Config configures the filesystem tools.
type Config struct {
	MaxChars int // Maximum characters returned by read_file. 0 = DefaultMaxChars.
}

func (c Config) maxChars() int {
	if c.MaxChars > 0 {
		return c.MaxChars
	}
	return DefaultMaxChars
}

// Entry is one child in a directory listing.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// violation builds the SandboxViolation result for a rejected path.
func violation(verb, path string) *tools.Result {
	return tools.Fail(tools.KindSandboxViolation,
		"Cannot %s %q as it is outside the permitted working directory", verb, path)
}

// ---- ListTool ----

// ListTool lists the direct children of a directory inside the sandbox.
type ListTool struct {
	logger *slog.Logger
}

// NewListTool creates the list_files tool.
func NewListTool(logger *slog.Logger) *ListTool {
	return &ListTool{logger: logger}
}

func (t *ListTool) Name() string { return "list_files" }
func (t *ListTool) Description() string {
	return "Lists files in the specified directory along with their sizes, constrained to the working directory."
}
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to list, relative to the working directory. If not provided, lists the working directory itself.",
			},
		},
	}
}

func (t *ListTool) Invoke(ctx context.Context, root *sandbox.Root, args map[string]any) *tools.Result {
	path, _, ok := tools.StringArg(args, "path")
	if !ok {
		return tools.Fail(tools.KindInvalidArguments, "parameter path must be a string, got %T", args["path"])
	}
	if path == "" {
		path = "."
	}

	resolved, err := root.Resolve(path)
	if err != nil {
		t.logger.WarnContext(ctx, "list_files rejected path",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return violation("list", path)
	}

	info, err := os.Stat(resolved)
	switch {
	case sandbox.IsNotExist(err):
		return tools.Fail(tools.KindNotFound, "%q does not exist", path)
	case err != nil:
		return tools.Fail(tools.KindIOFailure, "Could not access %q: %v", path, err)
	case !info.IsDir():
		return tools.Fail(tools.KindNotADirectory, "%q is not a directory", path)
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return tools.Fail(tools.KindIOFailure, "Could not list %q: %v", path, err)
	}

	t.logger.DebugContext(ctx, "list_files executing",
		slog.String("path", resolved),
		slog.Int("count", len(dirEntries)),
	)

	entries := make([]Entry, 0, len(dirEntries))
	var b strings.Builder
	for _, de := range dirEntries {
		e := describe(resolved, de)
		entries = append(entries, e)
		fmt.Fprintf(&b, "- %s: file_size=%d bytes, is_dir=%t\n", e.Name, e.Size, e.IsDir)
	}

	output := strings.TrimSuffix(b.String(), "\n")
	if len(entries) == 0 {
		output = fmt.Sprintf("Directory %q is empty", path)
	}
	return tools.OK(tools.TruncateOutput(output, tools.MaxOutputBytes), map[string]any{
		"path":    path,
		"entries": entries,
	})
}

// describe stats one child, following symlinks the way a user would expect
// is_dir to. Directories report size 0; a failed stat reports SizeUnavailable.
func describe(dir string, de fs.DirEntry) Entry {
	e := Entry{Name: de.Name(), IsDir: de.IsDir()}
	info, err := os.Stat(filepath.Join(dir, de.Name()))
	if err != nil {
		e.Size = SizeUnavailable
		return e
	}
	e.IsDir = info.IsDir()
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e
}

// ---- ReadTool ----

// ReadTool reads at most MaxChars characters of a regular file.
type ReadTool struct {
	config Config
	logger *slog.Logger
}

// NewReadTool creates the read_file tool.
func NewReadTool(cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, logger: logger}
}

func (t *ReadTool) Name() string { return "read_file" }
func (t *ReadTool) Description() string {
	return fmt.Sprintf("Reads the content of a file, constrained to the working directory. At most %d characters are returned.", t.config.maxChars())
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The file to read, relative to the working directory."},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Invoke(ctx context.Context, root *sandbox.Root, args map[string]any) *tools.Result {
	path, failed := tools.RequireString(args, "path", true)
	if failed != nil {
		return failed
	}

	resolved, err := root.Resolve(path)
	if err != nil {
		t.logger.WarnContext(ctx, "read_file rejected path",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return violation("read", path)
	}

	info, err := os.Stat(resolved)
	switch {
	case sandbox.IsNotExist(err):
		return tools.Fail(tools.KindNotFound, "File %q does not exist", path)
	case err != nil:
		return tools.Fail(tools.KindIOFailure, "Could not access %q: %v", path, err)
	case !info.Mode().IsRegular():
		return tools.Fail(tools.KindNotAFile, "File not found or is not a regular file: %q", path)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return tools.Fail(tools.KindIOFailure, "Could not read %q: %v", path, err)
	}
	defer f.Close()

	limit := t.config.maxChars()
	content, truncated, err := readChars(f, limit)
	if err != nil {
		return tools.Fail(tools.KindIOFailure, "Could not read %q: %v", path, err)
	}

	t.logger.DebugContext(ctx, "read_file executing",
		slog.String("path", resolved),
		slog.Int64("size_bytes", info.Size()),
		slog.Bool("truncated", truncated),
	)

	return tools.OK(content, map[string]any{
		"path":       path,
		"size_bytes": info.Size(),
		"truncated":  truncated,
	})
}

// readChars reads up to limit Unicode code points from r, keeping the
// original bytes (invalid UTF-8 counts one character per byte). truncated
// reports whether anything was left unread.
func readChars(r io.Reader, limit int) (content string, truncated bool, err error) {
	br := bufio.NewReader(r)
	var b strings.Builder
	for n := 0; n < limit; n++ {
		_, size, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return b.String(), false, nil
		}
		if err != nil {
			return "", false, err
		}
		if err := br.UnreadRune(); err != nil {
			return "", false, err
		}
		if _, err := io.CopyN(&b, br, int64(size)); err != nil {
			return "", false, err
		}
	}
	if _, err := br.Peek(1); err == nil {
		truncated = true
	} else if !errors.Is(err, io.EOF) {
		return "", false, err
	}
	return b.String(), truncated, nil
}

// ---- WriteTool ----

// WriteTool writes content to a file inside the sandbox.
type WriteTool struct {
	logger *slog.Logger
}

// NewWriteTool creates the write_file tool.
func NewWriteTool(logger *slog.Logger) *WriteTool {
	return &WriteTool{logger: logger}
}

func (t *WriteTool) Name() string { return "write_file" }
func (t *WriteTool) Description() string {
	return "Writes content to a file, constrained to the working directory. Overwrites the file if it exists. Parent directories must already exist."
}
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "The file to write, relative to the working directory."},
			"content": map[string]any{"type": "string", "description": "The content to write to the file."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Invoke(ctx context.Context, root *sandbox.Root, args map[string]any) *tools.Result {
	path, failed := tools.RequireString(args, "path", true)
	if failed != nil {
		return failed
	}
	content, failed := tools.RequireString(args, "content", false)
	if failed != nil {
		return failed
	}

	resolved, err := root.Resolve(path)
	if err != nil {
		t.logger.WarnContext(ctx, "write_file rejected path",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return violation("write to", path)
	}

	if err := root.Ensure(); err != nil {
		return tools.Fail(tools.KindIOFailure, "%v", err)
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return tools.Fail(tools.KindNotAFile, "%q is a directory", path)
	}

	if err := os.WriteFile(resolved, []byte(content), fs.FileMode(0640)); err != nil {
		return tools.Fail(tools.KindIOFailure, "Could not write to %q: %v", path, err)
	}

	chars := utf8.RuneCountInString(content)
	t.logger.InfoContext(ctx, "write_file executed",
		slog.String("path", resolved),
		slog.Int("chars", chars),
	)

	return tools.OK(fmt.Sprintf("Successfully wrote to %q (%d characters written)", path, chars), map[string]any{
		"path":          path,
		"chars_written": chars,
	})
}
