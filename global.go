package bgmigration

import (
	"os"
	"time"
)

var DefaultLogger Logger

// SetLogger set a logger instance for the engine
func SetLogger(logger Logger) {
	DefaultLogger = logger
}

func init() {
	DefaultLogger = NewLogger(os.Stdout, Info)
}

// task pool
const (
	DefaultJobPoolSize = 10
)

// retry defaults applied by the dispatcher side of the engine
const (
	DefaultMaxBatchAttempts = 3
	DefaultRetryBackoff     = time.Second
	DefaultMaxRetryBackoff  = time.Minute
)

var jobPool = newTaskPool(DefaultJobPoolSize)

// SetMaxRunningJobs set max number of parallel jobs started by StartAsync
func SetMaxRunningJobs(size int) {
	jobPool.SetMaxSize(size)
}
