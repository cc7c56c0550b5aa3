package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
)

const maxLineBytes = 16 << 20

// JSONLines reads change-sets from a file holding one JSON object per line:
//
//	{"id":"42","title":"...","edits":[{"path":"a.go","previous_path":"b.go","sub_change_id":"c1"}]}
//
// Blank lines are ignored. A malformed line fails only its own Fetch.
type JSONLines struct {
	lines map[int][]byte
	path  string
	max   int
	mu    sync.RWMutex
}

// NewJSONLines creates a source over the file at path.
func NewJSONLines(path string, maxChangeSets int) *JSONLines {
	return &JSONLines{path: path, max: maxChangeSets}
}

// List reads the file and returns one ref per non-blank line in file order.
func (j *JSONLines) List(ctx context.Context) ([]Ref, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("open change-set file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	lines := make(map[int][]byte)

	var (
		refs   []Ref
		lineNo int
	)

	for scanner.Scan() && !capped(len(refs), j.max) {
		lineNo++

		err = ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("read change-set file: %w", err)
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		seq := len(refs)
		lines[seq] = bytes.Clone(line)
		refs = append(refs, peekRef(line, lineNo, seq))
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read change-set file: %w", err)
	}

	j.mu.Lock()
	j.lines = lines
	j.mu.Unlock()

	return refs, nil
}

// peekRef names a line by its id when it parses, by its line number otherwise.
func peekRef(line []byte, lineNo, seq int) Ref {
	var head struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	if json.Unmarshal(line, &head) != nil || head.ID == "" {
		return Ref{ID: "line-" + strconv.Itoa(lineNo), Seq: seq}
	}

	return Ref{ID: head.ID, Title: head.Title, Seq: seq}
}

// Fetch decodes the line behind ref.
func (j *JSONLines) Fetch(_ context.Context, ref Ref) (cochange.ChangeSet, error) {
	j.mu.RLock()
	line, ok := j.lines[ref.Seq]
	j.mu.RUnlock()

	if !ok {
		return cochange.ChangeSet{ID: ref.ID}, fmt.Errorf("%w: %s", ErrUnknownRef, ref.ID)
	}

	var cs cochange.ChangeSet

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()

	err := dec.Decode(&cs)
	if err != nil {
		return cochange.ChangeSet{ID: ref.ID}, fmt.Errorf("%w: %s: %w", ErrMalformedLine, ref.ID, err)
	}

	if cs.ID == "" {
		return cochange.ChangeSet{ID: ref.ID}, fmt.Errorf("%w: %s: missing id", ErrMalformedLine, ref.ID)
	}

	return cs, nil
}
