package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/safetygate/internal/retry"
)

// GenesisHash is the prev_hash for the first record in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// FileSink is an append-only JSONL audit log with SHA-256 hash chaining.
// Each record's prev_hash is the hash of the previous record's JSON line,
// forming a tamper-evident chain.
//
// An append is all-or-nothing: a failed write or sync truncates the file
// back to its previous length so a retried record is not duplicated.
type FileSink struct {
	path     string
	file     *os.File
	prevHash string
	size     int64
	sync     func() error
	broken   error
	mu       sync.Mutex
	closed   bool
}

// ErrBroken is wrapped when a failed append could not be rolled back.
// The sink refuses further appends because the chain tail is unknown.
var ErrBroken = errors.New("audit: log left in unknown state")

// Open opens (or creates) an audit log file for appending.
// If the file already exists, it reads the last line to recover the chain tail.
func Open(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	var size int64
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		size = info.Size()
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return newFileSink(path, file, prevHash, size), nil
}

func newFileSink(path string, file *os.File, prevHash string, size int64) *FileSink {
	return &FileSink{path: path, file: file, prevHash: prevHash, size: size, sync: file.Sync}
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

// Path returns the log file path.
func (l *FileSink) Path() string { return l.path }

// Append writes rec with hash chaining and syncs to disk before returning.
func (l *FileSink) Append(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", ErrClosed
	}
	if l.broken != nil {
		return "", retry.Permanent(l.broken)
	}
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	rec.PrevHash = l.prevHash

	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}
	n, err := l.file.Write(append(line, '\n'))
	if err == nil {
		err = l.sync()
		if err != nil {
			err = fmt.Errorf("audit: sync: %w", err)
		}
	} else {
		err = fmt.Errorf("audit: write record: %w", err)
	}
	if err != nil {
		return "", l.rollback(n, err)
	}

	l.size += int64(n)
	l.prevHash = HashLine(line)
	return rec.AuditID, nil
}

// rollback removes a partially persisted record. When the file cannot be
// truncated the sink is marked broken and the error is permanent.
func (l *FileSink) rollback(written int, cause error) error {
	if written == 0 {
		return cause
	}
	if err := l.file.Truncate(l.size); err != nil {
		l.broken = fmt.Errorf("%w: %v; truncate: %v", ErrBroken, cause, err)
		return retry.Permanent(l.broken)
	}
	return cause
}

// Close flushes and closes the underlying file.
func (l *FileSink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
