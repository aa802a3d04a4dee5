package metrics

// Pre-defined metrics for the executor. All metrics live in DefaultRegistry
// so they are globally accessible without passing a registry around.

var (
	// ---- EVM metrics ----

	// EVMExecutions counts transactions run through the simulator.
	EVMExecutions = DefaultRegistry.Counter("evm.executions")
	// EVMGasUsed counts total gas charged to executed transactions.
	EVMGasUsed = DefaultRegistry.Counter("evm.gas_used")
	// EVMFailures counts transactions whose root frame reverted or failed.
	EVMFailures = DefaultRegistry.Counter("evm.failures")
	// TxRejected counts transactions rejected before execution.
	TxRejected = DefaultRegistry.Counter("evm.tx_rejected")
	// TxExecTime records transaction execution time in milliseconds.
	TxExecTime = DefaultRegistry.Histogram("evm.tx_exec_ms")

	// ---- EIP-7702 metrics ----

	// AuthorizationsApplied counts authorization tuples that set or cleared
	// a delegation.
	AuthorizationsApplied = DefaultRegistry.Counter("eip7702.applied")
	// AuthorizationsSkipped counts authorization tuples ignored as invalid.
	AuthorizationsSkipped = DefaultRegistry.Counter("eip7702.skipped")
)
