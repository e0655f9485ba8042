// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the size of the mlocked buffer used to accumulate
	// the assistant's full answer before it is persisted to history.
	// 512 KB covers long completions with room to spare.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Interface
// =============================================================================

// TokenAccumulator collects streamed completion tokens into the full
// assistant answer handed to the history recorder at stream end.
//
// # Description
//
// Tokens are hashed incrementally as they arrive, so the answer hash is
// available at Finalize without a second pass. The secure implementation
// keeps the accumulating answer in mlocked memory; a fallback uses plain
// memory when the system cannot lock pages.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Limitations
//
//   - Buffer capacity is fixed.
//   - An accumulator cannot be reused after Finalize or Destroy.
type TokenAccumulator interface {
	// Write appends one token.
	Write(token string) error

	// Finalize returns the accumulated answer and its SHA-256 hex hash,
	// then wipes the buffer. Can only be called once.
	Finalize() (string, string, error)

	// Destroy wipes the buffer without returning data. Idempotent; use on
	// error paths.
	Destroy()

	// ID returns the accumulator's instance id for logging.
	ID() string

	// CreatedAt returns when the accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores tokens in a memguard LockedBuffer: pages are
// mlocked against swap, guarded against overflow, and explicitly zeroed
// on destruction.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// insecureAccumulator is the plain-memory fallback used when mlock limits
// are insufficient and GATEWAY_INSECURE_MEMORY=true acknowledges the risk.
type insecureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

var (
	_ TokenAccumulator = (*secureAccumulator)(nil)
	_ TokenAccumulator = (*insecureAccumulator)(nil)
)

// NewTokenAccumulator creates an accumulator for one stream.
//
// # Description
//
// Allocates an mlocked buffer of SecureBufferSize bytes. When the system
// mlock limit is too low, returns an error unless GATEWAY_INSECURE_MEMORY
// is set, in which case a plain-memory fallback is created with a warning.
//
// # Outputs
//
//   - TokenAccumulator: Secure or fallback, depending on the system.
//   - error: Non-nil when secure allocation failed with no fallback.
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv("GATEWAY_INSECURE_MEMORY") == "true" {
			slog.Warn("Using insecure memory accumulator due to mlock limits",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newInsecureAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB. "+
				"Raise the limit or set GATEWAY_INSECURE_MEMORY=true",
			currentMlockLimitKB, MinMlockLimitKB)
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure token accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)

	return &secureAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

func newInsecureAccumulator() TokenAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE token accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// Write appends a token to the secure buffer and the incremental hash.
// Overflow marks the accumulator unusable; there is no recovery.
func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

// Finalize extracts the answer and hash, then wipes the buffer.
func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed secure token accumulator", "accumulator_id", a.id)
}

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

func (a *secureAccumulator) ID() string           { return a.id }
func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Insecure Fallback Methods
// =============================================================================

func (a *insecureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

// wipe zeroes the slice before release. Best effort only; plain memory
// may already have been swapped.
func (a *insecureAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureAccumulator) ID() string           { return a.id }
func (a *insecureAccumulator) CreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Memguard Initialization
// =============================================================================

// initMemguard performs one-time memguard setup and records whether the
// system mlock limit can hold a secure buffer.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Error("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"help", "raise RLIMIT_MEMLOCK or set GATEWAY_INSECURE_MEMORY=true",
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK. Returns (true, -1) when the
// limit is unlimited or undeterminable.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
