package lockcache

import (
	"time"

	lclog "github.com/unkn0wn-root/lockcache/log"
	"github.com/unkn0wn-root/lockcache/store"
)

// Logger and Fields are aliases so callers need a single import.
type (
	Logger = lclog.Logger
	Fields = lclog.Fields
)

const (
	DefaultLockTTL     = 180 * time.Second
	DefaultScanCount   = 100000
	DefaultDeleteBatch = 1000
)

// Options tune a Writer. Only Factory is required.
type Options struct {
	// Required
	Factory store.Factory

	// LockWait > 0 enables cache locking for PutIfAbsent and Clean and is the
	// poll interval while another holder owns the lock. <= 0 disables locking
	// for the whole writer.
	LockWait time.Duration

	LockTTL     time.Duration // lock safety-net expiry; 0 => 180s
	MaxLockWait time.Duration // 0 => wait until the lock frees or ctx ends
	ScanCount   int64         // SCAN COUNT hint; 0 => 100000
	DeleteBatch int           // keys per DEL during wildcard deletes; 0 => 1000
	WorkerID    string        // lock token prefix; "" => <hostname>-<pid>

	Logger     Logger              // if nil, lclog.Nop is used
	Hooks      Hooks               // if nil, NopHooks is used
	Statistics StatisticsCollector // if nil, NopStatistics is used
}
