package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ID generator
// ============================================================================
//
// Transaction and settlement numbers must be:
//   1. globally unique
//   2. roughly increasing, so they index well
//   3. cheap to generate under concurrency
//   4. opaque about business volume
//
// Layout, 64 bits:
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//   |   |                  |                  |
//   |   |                  |                  +-- sequence within the millisecond (0-4095)
//   |   |                  +-- worker id (0-1023)
//   |   +-- milliseconds since epoch (about 69 years)
//   +-- sign bit, always 0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the default generator. Only the first call has any effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID uses the default generator, falling back to worker 1 when Init
// was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards; keep issuing from the last timestamp
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted, spin to the next millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo e.g. TXN20240115143052-1234567890123
func GenerateTransactionNo() string {
	return generate("TXN")
}

// GenerateSettlementNo e.g. STL20240115143052-1234567890123
func GenerateSettlementNo() string {
	return generate("STL")
}

func generate(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s-%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}
