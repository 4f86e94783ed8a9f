package fls

// Hardcoded implementation limits.
const (
	// MaxKeys is the number of key indices available process-wide.
	MaxKeys = keyBlocks * keysPerBlock

	// MaxFinalizePasses bounds how many times finalize walks a table when
	// destructors keep storing new values. Matches POSIX
	// PTHREAD_DESTRUCTOR_ITERATIONS.
	MaxFinalizePasses = 4

	keyBlocks    = 31
	keysPerBlock = 32

	// Defaults for PoolOptions.
	defaultLocalCapacity = 4000
	defaultBorrowBatch   = 100
)
