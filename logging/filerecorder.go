// Package logging writes test run output to a per-run log directory.
package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/runner"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	AllLogsFilename    = "all.log"
	SummaryFilename    = "summary.log"
	PassedDirname      = "passed"
	FailedDirname      = "failed"
)

var _ runner.Recorder = (*FileRecorder)(nil)

// FileRecorderConfig contains file recorder configuration
type FileRecorderConfig struct {
	Log     log.Logger
	BaseDir string
	RunID   string
}

// FileRecorder is a runner.Recorder writing every result to all.log and to a dedicated file in
// the passed or failed directory of the run
type FileRecorder struct {
	log       log.Logger
	runID     string
	logDir    string
	passedDir string
	failedDir string

	mu      sync.Mutex
	writers map[string]*logFile
	names   map[string]int // Per-test filenames handed out so far
}

// NewFileRecorder creates the run directory layout under cfg.BaseDir
func NewFileRecorder(cfg FileRecorderConfig) (*FileRecorder, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	logDir := filepath.Join(cfg.BaseDir, RunDirectoryPrefix+cfg.RunID)
	r := &FileRecorder{
		log:       cfg.Log,
		runID:     cfg.RunID,
		logDir:    logDir,
		passedDir: filepath.Join(logDir, PassedDirname),
		failedDir: filepath.Join(logDir, FailedDirname),
		writers:   make(map[string]*logFile),
		names:     make(map[string]int),
	}
	for _, dir := range []string{cfg.BaseDir, logDir, r.passedDir, r.failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return r, nil
}

// RunDirectory returns the directory of the current run
func (r *FileRecorder) RunDirectory() string {
	return r.logDir
}

// RecordStart implements runner.Recorder
func (r *FileRecorder) RecordStart(test types.TestDefinition) error {
	return r.write(AllLogsFilename, fmt.Sprintf("=== RUN   %s (%s)\n", test.FullyQualifiedName(), test.Container))
}

// RecordEnd implements runner.Recorder
func (r *FileRecorder) RecordEnd(types.TestDefinition, types.Outcome) error {
	return nil
}

// RecordResult writes the result to all.log and to its own file
func (r *FileRecorder) RecordResult(result *types.ExecutionResult) error {
	block := formatResult(result)
	if err := r.write(AllLogsFilename, block); err != nil {
		return err
	}

	dir := r.passedDir
	if result.Outcome.IsFailure() {
		dir = r.failedDir
	}
	path := filepath.Join(dir, r.uniqueName(result)+".log")
	if err := os.WriteFile(path, []byte(block), 0644); err != nil {
		return fmt.Errorf("failed to write test log %s: %w", path, err)
	}
	return nil
}

// SendMessage writes run messages to all.log
func (r *FileRecorder) SendMessage(level runner.MessageLevel, message string) error {
	return r.write(AllLogsFilename, fmt.Sprintf("[%s] %s\n", strings.ToUpper(string(level)), message))
}

// LogSummary writes the run summary to summary.log
func (r *FileRecorder) LogSummary(summary string) error {
	return r.write(SummaryFilename, summary)
}

// Complete flushes and closes every open file
func (r *FileRecorder) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for path, w := range r.writers {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", path, err)
		}
	}
	r.writers = make(map[string]*logFile)
	return firstErr
}

func (r *FileRecorder) write(name, content string) error {
	w, err := r.writer(filepath.Join(r.logDir, name))
	if err != nil {
		return err
	}
	return w.append(content)
}

// writer gets or opens the log file at path
func (r *FileRecorder) writer(path string) (*logFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.writers[path]; ok {
		return w, nil
	}
	w, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	r.writers[path] = w
	return w, nil
}

// uniqueName derives a readable filename from the result, suffixed when it was already used
func (r *FileRecorder) uniqueName(result *types.ExecutionResult) string {
	name := safeFilename(fmt.Sprintf("%s_%s.%s",
		types.NewTestContainer(result.Test.Container).Name, result.Test.Class, result.Name()))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name]++
	if n := r.names[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}

// logFile appends to one file of the run directory from a background goroutine. Entries are
// stripped of ANSI escapes and buffered; the buffer is flushed whenever the queue runs dry.
type logFile struct {
	entries chan string
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	// err is owned by drain until done is closed
	err error
}

func openLogFile(path string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	l := &logFile{
		entries: make(chan string, 256),
		done:    make(chan struct{}),
	}
	go l.drain(f)
	return l, nil
}

func (l *logFile) append(entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("log file is closed")
	}
	l.entries <- stripansi.Strip(entry)
	return nil
}

func (l *logFile) drain(f *os.File) {
	defer close(l.done)
	w := bufio.NewWriter(f)
	keep := func(err error) {
		if err != nil && l.err == nil {
			l.err = err
		}
	}
	for entry := range l.entries {
		_, err := w.WriteString(entry)
		keep(err)
		if len(l.entries) == 0 {
			keep(w.Flush())
		}
	}
	keep(w.Flush())
	keep(f.Close())
}

// close drains pending entries and closes the file. It returns the first write error.
func (l *logFile) close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()
	<-l.done
	return l.err
}

func formatResult(result *types.ExecutionResult) string {
	var content strings.Builder

	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ TEST: %-64s │\n", truncateString(result.Name(), 64))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Outcome:   %-61s │\n", result.Outcome)
	fmt.Fprintf(&content, "│ Class:     %-61s │\n", truncateString(result.Test.Class, 61))
	fmt.Fprintf(&content, "│ Container: %-61s │\n", truncateString(result.Test.Container, 61))
	fmt.Fprintf(&content, "│ Duration:  %-61s │\n", result.Duration)
	fmt.Fprintf(&content, "│ Time:      %-61s │\n", result.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	section := func(title, body string) {
		body = strings.TrimRight(stripansi.Strip(body), "\n")
		if body == "" {
			return
		}
		fmt.Fprintf(&content, "%s:\n%s\n", title, strings.Repeat("~", len(title)+1))
		fmt.Fprintf(&content, "%s\n\n", indentText(body, "  "))
	}
	section("ERROR", result.ErrorMessage)
	section("STACK TRACE", result.ErrorStackTrace)
	section("STDOUT", result.StandardOut)
	section("STDERR", result.StandardError)
	section("DEBUG TRACE", result.DebugTrace)
	if len(result.ResultFiles) > 0 {
		section("RESULT FILES", strings.Join(result.ResultFiles, "\n"))
	}
	return content.String()
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_",
	"<", "_", ">", "_", "|", "_", " ", "_", "(", "", ")", "", "...", "",
)

func safeFilename(s string) string {
	return filenameReplacer.Replace(s)
}

// indentText adds indentation to each non-empty line
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates s to maxLen, adding an ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
