package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/Mohannadcse/DepsRAG/errors"
)

// questionEntry is the value stored under each question number.
type questionEntry struct {
	Question   string      `json:"question"`
	Iterations []Iteration `json:"iterations"`
}

// JSONFile appends reports to a JSON document of the form
//
//	{"1": {"question": "...", "iterations": [...]}, "2": ...}
//
// The whole document is rewritten on each Record through a temp file and
// rename, so a crash never leaves a truncated file behind.
type JSONFile struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// NewJSONFile returns a sink writing to path. The file is created on the
// first Record.
func NewJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "report path is required for the json sink")
	}
	return &JSONFile{path: path}, nil
}

// Record implements Sink.
func (j *JSONFile) Record(_ context.Context, it Iteration) error {
	if err := it.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	doc, err := j.load()
	if err != nil {
		return err
	}
	key := strconv.Itoa(it.QuestionNo)
	entry := doc[key]
	entry.Question = it.Question
	entry.Iterations = append(entry.Iterations, it)
	doc[key] = entry
	return j.store(doc)
}

// List implements Sink.
func (j *JSONFile) List(_ context.Context, f Filter) ([]Iteration, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	doc, err := j.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Iteration
	for _, k := range keys {
		for _, it := range doc[k].Iterations {
			if f.Matches(it) {
				out = append(out, it)
			}
		}
	}
	sortIterations(out)
	return limit(out, f.Limit), nil
}

// Close implements Sink.
func (j *JSONFile) Close() error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	return nil
}

func (j *JSONFile) load() (map[string]questionEntry, error) {
	doc := make(map[string]questionEntry)
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "read report file",
			errors.WithMetadata("path", j.path))
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse report file",
			errors.WithMetadata("path", j.path))
	}
	return doc, nil
}

func (j *JSONFile) store(doc map[string]questionEntry) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "encode report file")
	}
	if dir := filepath.Dir(j.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInternal, "create report directory")
		}
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "write report file",
			errors.WithMetadata("path", tmp))
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "replace report file",
			errors.WithMetadata("path", j.path))
	}
	return nil
}
