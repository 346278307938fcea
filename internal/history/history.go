// Package history records a hash-chained, append-only journal of scan
// passes: what parameters produced what result count, so a caller can later
// show the provenance of a filter collection without re-running the scan.
package history

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/scanparams"
)

// genesisHash seeds the chain for the journal's first entry.
var genesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// entryContent is the hashed portion of a journal entry.
type entryContent struct {
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	DataType     datatype.ID
	CompareType  scanparams.CompareType
	ResultCount  int64
	PreviousHash string `json:"previous_hash"`
}

// Entry is one journal record: its content plus the hash that chains it to
// the entry before it.
type Entry struct {
	entryContent
	Hash string `json:"hash"`
}

func (c entryContent) hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Journal is a mutex-protected, append-only, hash-chained log backed by a
// single file opened for append.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	sequence uint64
	lastHash string
}

// Open opens (creating if necessary) the journal file at path and restores
// the chain position by replaying existing entries.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("history: opening %q: %w", path, err)
	}

	j := &Journal{file: f, lastHash: genesisHash}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			f.Close()
			return nil, fmt.Errorf("history: corrupt entry in %q: %w", path, err)
		}
		j.sequence = e.Sequence + 1
		j.lastHash = e.Hash
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("history: reading %q: %w", path, err)
	}

	return j, nil
}

// Record appends a new entry describing one completed scan pass.
func (j *Journal) Record(dt datatype.ID, compareType scanparams.CompareType, resultCount int64) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	content := entryContent{
		Sequence:     j.sequence,
		Timestamp:    time.Now().UTC(),
		DataType:     dt,
		CompareType:  compareType,
		ResultCount:  resultCount,
		PreviousHash: j.lastHash,
	}
	entry := Entry{entryContent: content, Hash: content.hash()}

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("history: encoding entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.file.Write(line); err != nil {
		return Entry{}, fmt.Errorf("history: writing entry: %w", err)
	}

	j.sequence++
	j.lastHash = entry.Hash
	return entry, nil
}

// Verify replays every entry in path and reports whether the hash chain is
// intact.
func Verify(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("history: opening %q: %w", path, err)
	}
	defer f.Close()

	prev := genesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return false, fmt.Errorf("history: corrupt entry: %w", err)
		}
		if e.PreviousHash != prev {
			return false, nil
		}
		if e.hash() != e.Hash {
			return false, nil
		}
		prev = e.Hash
	}
	return true, scanner.Err()
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.file.Close()
}
