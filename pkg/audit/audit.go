// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit provides a tamper-evident trail of scheduler events.
//
// Entries are appended to a JSONL file as a hash chain: each entry's chain
// hash incorporates the previous entry's chain hash, so inserting, removing,
// or modifying any historical entry breaks the chain. Verification replays
// the file and recomputes every hash.
//
// # Chain Structure
//
// Entry N chain hash = SHA256(Entry N-1 chain hash + Entry N content hash)
//
// This ensures:
//   - Insertion detection: adding entries breaks the chain
//   - Deletion detection: removing entries breaks the chain
//   - Modification detection: changing entries breaks the chain
//
// # Limitations
//
//   - Cannot prevent real-time tampering (only detect after the fact)
//   - Verification requires the whole file (no partial verification)
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/taskflow/scheduler/events"
)

// Entry is one record in the audit trail.
type Entry struct {
	// SequenceNum is the position in the chain (1-indexed).
	SequenceNum int `json:"seq"`

	// SessionID identifies the batch run the event belongs to.
	SessionID string `json:"session_id"`

	// EventID is the unique ID of the recorded event.
	EventID string `json:"event_id"`

	// EventType is the recorded event's type.
	EventType string `json:"event_type"`

	// Wave is the wave index active when the event was emitted (-1 outside waves).
	Wave int `json:"wave"`

	// Timestamp is when the entry was recorded (always UTC).
	Timestamp time.Time `json:"timestamp"`

	// Data is the event's typed payload, serialized as JSON.
	Data json.RawMessage `json:"data,omitempty"`

	// ContentHash is SHA256 of the entry content (everything above).
	ContentHash string `json:"content_hash"`

	// PreviousHash is the ChainHash of the preceding entry. Empty for the
	// first entry in the file.
	PreviousHash string `json:"previous_hash,omitempty"`

	// ChainHash is SHA256(PreviousHash + ContentHash).
	ChainHash string `json:"chain_hash"`
}

// VerificationResult is the outcome of replaying an audit trail.
type VerificationResult struct {
	// IsValid is true if the entire chain is intact.
	IsValid bool

	// TotalEntries is the number of entries verified.
	TotalEntries int

	// BreakPoint is the sequence number where integrity failed. Zero when
	// the chain is valid or empty.
	BreakPoint int

	// ExpectedHash is what the hash should be at BreakPoint.
	ExpectedHash string

	// ActualHash is what the hash actually was at BreakPoint.
	ActualHash string

	// Message is a human-readable verification status.
	Message string
}

// Trail appends scheduler events to a hash-chained JSONL file.
//
// Thread Safety: Trail is safe for concurrent use.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	seq      int
	lastHash string
}

// Open creates or appends to an audit trail file.
//
// Description:
//
//	When the file already holds entries, the trail resumes the existing
//	chain: the new first entry links to the file's last chain hash, so a
//	single file can span multiple batch runs.
//
// Inputs:
//
//	path - The JSONL file path. Created if missing.
//
// Outputs:
//
//	*Trail - The open trail.
//	error - Non-nil if the file cannot be opened or the tail cannot be read.
func Open(path string) (*Trail, error) {
	seq, lastHash, err := readTail(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit trail tail: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}

	return &Trail{
		file:     f,
		writer:   bufio.NewWriter(f),
		seq:      seq,
		lastHash: lastHash,
	}, nil
}

// Record appends one event to the trail.
func (t *Trail) Record(event *events.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{
		SequenceNum: t.seq + 1,
		SessionID:   event.SessionID,
		EventID:     event.ID,
		EventType:   string(event.Type),
		Wave:        event.Wave,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
	entry.ContentHash = contentHash(entry)
	entry.PreviousHash = t.lastHash
	entry.ChainHash = chainHash(entry.PreviousHash, entry.ContentHash)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if _, err := t.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flushing audit entry: %w", err)
	}

	t.seq = entry.SequenceNum
	t.lastHash = entry.ChainHash
	return nil
}

// Handler adapts the trail to an event handler for emitter subscription.
// Record errors are reported through errFn; pass nil to ignore them.
func (t *Trail) Handler(errFn func(error)) events.Handler {
	return func(event *events.Event) {
		if err := t.Record(event); err != nil && errFn != nil {
			errFn(err)
		}
	}
}

// Close flushes and closes the trail file. Safe to call twice.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	flushErr := t.writer.Flush()
	closeErr := t.file.Close()
	t.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Verify replays an audit trail file and recomputes every hash.
//
// Outputs:
//
//	*VerificationResult - The verification outcome; never nil on success.
//	error - Non-nil only for I/O or parse failures, not integrity breaks.
func Verify(path string) (*VerificationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	result := &VerificationResult{IsValid: true, Message: "chain intact"}
	prevHash := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parsing entry %d: %w", result.TotalEntries+1, err)
		}
		result.TotalEntries++

		if got, want := entry.ContentHash, contentHash(entry); got != want {
			return breakAt(result, entry.SequenceNum, want, got, "content hash mismatch"), nil
		}
		if entry.PreviousHash != prevHash {
			return breakAt(result, entry.SequenceNum, prevHash, entry.PreviousHash, "chain link broken"), nil
		}
		if got, want := entry.ChainHash, chainHash(entry.PreviousHash, entry.ContentHash); got != want {
			return breakAt(result, entry.SequenceNum, want, got, "chain hash mismatch"), nil
		}
		prevHash = entry.ChainHash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}

	if result.TotalEntries == 0 {
		result.Message = "trail is empty"
	}
	return result, nil
}

func breakAt(result *VerificationResult, seq int, expected, actual, msg string) *VerificationResult {
	result.IsValid = false
	result.BreakPoint = seq
	result.ExpectedHash = expected
	result.ActualHash = actual
	result.Message = fmt.Sprintf("%s at entry %d", msg, seq)
	return result
}

// contentHash hashes the entry fields that precede the hash fields.
func contentHash(entry Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s|",
		entry.SequenceNum,
		entry.SessionID,
		entry.EventID,
		entry.EventType,
		entry.Wave,
		entry.Timestamp.UTC().Format(time.RFC3339Nano))
	h.Write(entry.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// chainHash links an entry to its predecessor.
func chainHash(previousHash, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// readTail returns the sequence number and chain hash of a file's last
// entry, or zero values when the file is missing or empty.
func readTail(path string) (int, string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	seq, lastHash := 0, ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return 0, "", fmt.Errorf("parsing entry %d: %w", seq+1, err)
		}
		seq = entry.SequenceNum
		lastHash = entry.ChainHash
	}
	return seq, lastHash, scanner.Err()
}
