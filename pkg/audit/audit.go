// Package audit implements the tamper-evident pruning audit log.
//
// Pruning is irreversible: once the maintenance sweep removes a node, the
// only remaining evidence that the concept was ever tracked is the audit
// record written for it. Records are JSON lines, one per removed node, each
// carrying the node's identity, the proficiency it was removed at, and how
// stale it was - plus a blake2b digest chained to the previous record so
// any later edit or deletion of a line breaks the chain and is detectable.
//
// Example Usage:
//
//	logger, err := audit.NewLogger("/var/lib/muninn/prune.audit")
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	for _, rec := range removed {
//		logger.LogPrune(rec, time.Now())
//	}
//
//	// Later, verify nothing was tampered with:
//	n, err := audit.NewReader("/var/lib/muninn/prune.audit").Verify()
//	fmt.Printf("%d records, chain intact: %v\n", n, err == nil)
package audit

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/muninn/pkg/graph"
)

// Record is one audit log entry: a pruned node plus chain metadata.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Node       graph.PruneRecord `json:"node"`
	PrevDigest string            `json:"prevDigest"`
	Digest     string            `json:"digest"`
}

// digest computes the chained blake2b digest of a record. The Digest field
// itself is excluded from the hashed form.
func (r Record) digest() string {
	r.Digest = ""
	payload, _ := json.Marshal(r)
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Logger appends chained audit records to a writer. Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	seq    int64
	prev   string
}

// NewLogger opens (or creates) an append-only audit log at path. If the file
// already has records, the chain continues from the last one, so a restart
// does not break verification.
func NewLogger(path string) (*Logger, error) {
	seq, prev, err := chainTail(path)
	if err != nil {
		return nil, fmt.Errorf("audit: reading existing log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log: %w", err)
	}
	return &Logger{w: f, closer: f, seq: seq, prev: prev}, nil
}

// NewLoggerWithWriter creates a Logger over an arbitrary writer, starting a
// fresh chain. Used in tests and by callers that manage their own files.
func NewLoggerWithWriter(w io.Writer) *Logger {
	return &Logger{w: w}
}

// LogPrune appends one audit record for a pruned node and returns the record
// as written, digest included.
func (l *Logger) LogPrune(node graph.PruneRecord, now time.Time) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec := Record{
		Sequence:   l.seq,
		Timestamp:  now.UTC(),
		Node:       node,
		PrevDigest: l.prev,
	}
	rec.Digest = rec.digest()

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("audit: encoding record: %w", err)
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("audit: writing record: %w", err)
	}
	l.prev = rec.Digest
	return rec, nil
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// chainTail returns the sequence and digest of the last record in an
// existing log file, or zero values if the file does not exist or is empty.
func chainTail(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", nil
		}
		return 0, "", err
	}
	defer f.Close()

	var last Record
	var found bool
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return 0, "", fmt.Errorf("malformed record: %w", err)
		}
		last = rec
		found = true
	}
	if err := sc.Err(); err != nil {
		return 0, "", err
	}
	if !found {
		return 0, "", nil
	}
	return last.Sequence, last.Digest, nil
}

// Reader queries and verifies an audit log file.
type Reader struct {
	path string
}

// NewReader creates a Reader over the log at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query returns every record with a timestamp in [start, end]. A zero start
// or end leaves that bound open.
func (r *Reader) Query(start, end time.Time) ([]Record, error) {
	var out []Record
	err := r.scan(func(rec Record) {
		if !start.IsZero() && rec.Timestamp.Before(start) {
			return
		}
		if !end.IsZero() && rec.Timestamp.After(end) {
			return
		}
		out = append(out, rec)
	})
	return out, err
}

// Verify walks the whole chain and returns the number of records. An error
// identifies the first record whose digest or back-link does not match -
// evidence the log was edited after the fact.
func (r *Reader) Verify() (int, error) {
	count := 0
	prev := ""
	var verifyErr error
	err := r.scan(func(rec Record) {
		if verifyErr != nil {
			return
		}
		if rec.PrevDigest != prev {
			verifyErr = fmt.Errorf("audit: chain break at sequence %d: prev digest mismatch", rec.Sequence)
			return
		}
		if rec.digest() != rec.Digest {
			verifyErr = fmt.Errorf("audit: chain break at sequence %d: record digest mismatch", rec.Sequence)
			return
		}
		prev = rec.Digest
		count++
	})
	if err != nil {
		return count, err
	}
	return count, verifyErr
}

func (r *Reader) scan(fn func(Record)) error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("audit: opening log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("audit: malformed record: %w", err)
		}
		fn(rec)
	}
	return sc.Err()
}
