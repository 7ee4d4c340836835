// Package jsonl persists the move log as append-only JSON lines in a local
// file. It suits a single player running the coach on a laptop without a
// database.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/pokercoach/internal/movelog"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

var (
	_ movelog.Sink   = (*FileStore)(nil)
	_ movelog.Loader = (*FileStore)(nil)
)

// record is a single line in the file.
type record struct {
	Session string     `json:"session"`
	Seq     int        `json:"seq"`
	Move    poker.Move `json:"move"`
}

// FileStore appends moves to a JSON lines file. Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore writing to path. The file is created on
// the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// WriteMove implements [movelog.Sink].
func (fs *FileStore) WriteMove(_ context.Context, session string, seq int, m poker.Move) error {
	data, err := json.Marshal(record{Session: session, Seq: seq, Move: m})
	if err != nil {
		return fmt.Errorf("movelog jsonl: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("movelog jsonl: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("movelog jsonl: write: %w", err)
	}
	return nil
}

// LoadMoves implements [movelog.Loader]. A missing file yields an empty log.
// Lines belonging to other sessions are skipped.
func (fs *FileStore) LoadMoves(_ context.Context, session string) ([]poker.Move, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("movelog jsonl: open file: %w", err)
	}
	defer f.Close()

	var moves []poker.Move
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("movelog jsonl: line %d: %w", line, err)
		}
		if r.Session == session {
			moves = append(moves, r.Move)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("movelog jsonl: read: %w", err)
	}
	return moves, nil
}
