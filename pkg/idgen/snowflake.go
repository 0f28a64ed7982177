package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ids for transaction rows
// ============================================================================
//
// Layout (64 bits):
//
//   0 | 41 bits ms since epoch | 10 bits worker | 12 bits sequence
//
// Ids are unique per worker and roughly time ordered, so the transaction log
// can be assigned its primary key before the insert and rows sort by id in
// creation order.

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	MaxWorkerID    = -1 ^ (-1 << workerIDBits)
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

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("idgen: worker id must be in [0, %d], got %d", MaxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the process-wide generator. Only the first call has effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

// NextID draws from the process-wide generator. It panics if Init has not
// succeeded: a replica without its own worker id would collide with others.
func NextID() int64 {
	if defaultGenerator == nil {
		panic("idgen: NextID called before Init")
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock stepped back; keep issuing from the last seen millisecond
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
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
