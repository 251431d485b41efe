package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	timestampBits = 41
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID = (1 << machineIDBits) - 1
	maxSequence  = (1 << sequenceBits) - 1

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// SnowflakeGenerator generates 64-bit time-ordered ids rendered in base 10.
type SnowflakeGenerator struct {
	mu        sync.Mutex
	epoch     int64 // custom epoch in ms
	machineID int64
	sequence  int64
	lastTime  int64
	now       func() int64
}

// NewSnowflakeGenerator requires machineID in [0, 1023]; epoch is unix ms.
func NewSnowflakeGenerator(machineID int64, epoch int64) (*SnowflakeGenerator, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	return &SnowflakeGenerator{
		epoch:     epoch,
		machineID: machineID,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (g *SnowflakeGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.epoch {
		return "", fmt.Errorf("current time is before custom epoch")
	}
	if now < g.lastTime {
		return "", fmt.Errorf("clock moved backwards: current=%d, last=%d", now, g.lastTime)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.lastTime {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	id := ((now - g.epoch) << timestampShift) | (g.machineID << machineIDShift) | g.sequence
	return strconv.FormatInt(id, 10), nil
}

func (g *SnowflakeGenerator) Validate(id string) (bool, string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, "invalid integer format"
	}
	if n < 0 {
		return false, "id must be a positive integer"
	}

	ts := (n >> timestampShift) & ((1 << timestampBits) - 1)
	if ts+g.epoch > g.now() {
		return false, "timestamp is in the future"
	}
	return true, ""
}
