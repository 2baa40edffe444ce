package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LastConfig is the content of the persisted last-config file:
//
//	line 1: absolute path to the waveform file
//	line 2: "0" or "1", cyclic mode enabled
//	line 3: burst duration in seconds (1-30)
//	line 4: pause duration in seconds (0-30, 0 = continuous)
//
// Empty lines and lines starting with '#' are skipped. Anything past the
// fourth field is ignored.
type LastConfig struct {
	Path  string      `json:"path"`
	Cycle CycleConfig `json:"cycle"`
}

// ParseError reports a malformed field in the last-config file. It is
// recoverable: the field keeps its previous value.
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("last config line %d (%s): invalid value %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errBadFlag = errors.New("expected 0 or 1")

// ParseLastConfig reads the line format from r on top of base. Fields that
// are missing keep the base value; malformed fields keep the base value and
// are reported in the returned slice. The only fatal error is an I/O error
// from r.
func ParseLastConfig(r io.Reader, base LastConfig) (LastConfig, []*ParseError, error) {
	out := base
	var problems []*ParseError

	scanner := bufio.NewScanner(r)
	lineNo := 0
	field := 0
	for field < 4 && scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field++

		switch field {
		case 1:
			out.Path = line
		case 2:
			switch line {
			case "0":
				out.Cycle.LoopEnabled = false
			case "1":
				out.Cycle.LoopEnabled = true
			default:
				problems = append(problems, &ParseError{Line: lineNo, Field: "cyclic", Value: line, Err: errBadFlag})
			}
		case 3:
			v, err := strconv.Atoi(line)
			if err != nil {
				problems = append(problems, &ParseError{Line: lineNo, Field: "burst", Value: line, Err: err})
				continue
			}
			out.Cycle.BurstSeconds = clampInt(v, MinBurstSeconds, MaxBurstSeconds)
		case 4:
			v, err := strconv.Atoi(line)
			if err != nil {
				problems = append(problems, &ParseError{Line: lineNo, Field: "pause", Value: line, Err: err})
				continue
			}
			out.Cycle.PauseSeconds = clampInt(v, MinPauseSeconds, MaxPauseSeconds)
		}
	}
	if err := scanner.Err(); err != nil {
		return base, nil, fmt.Errorf("failed to read last config: %w", err)
	}

	return out, problems, nil
}

// WriteLastConfig writes lc in the four-line format.
func WriteLastConfig(w io.Writer, lc LastConfig) error {
	cyclic := "0"
	if lc.Cycle.LoopEnabled {
		cyclic = "1"
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n%d\n%d\n", lc.Path, cyclic, lc.Cycle.BurstSeconds, lc.Cycle.PauseSeconds)
	return err
}

// FileStore persists LastConfig to a single file.
type FileStore struct {
	path string
	base LastConfig
}

// NewFileStore creates a store rooted at path. base supplies the values used
// for fields the file does not provide.
func NewFileStore(path string, base LastConfig) *FileStore {
	return &FileStore{path: path, base: base}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file returns the base config and
// os.ErrNotExist.
func (s *FileStore) Load() (LastConfig, []*ParseError, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return s.base, nil, err
	}
	defer func() { _ = f.Close() }()

	return ParseLastConfig(f, s.base)
}

// Save replaces the file with lc.
func (s *FileStore) Save(lc LastConfig) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open last config: %w", err)
	}
	if err := WriteLastConfig(f, lc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write last config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close last config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace last config: %w", err)
	}
	return nil
}
