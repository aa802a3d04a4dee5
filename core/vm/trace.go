package vm

import (
	"encoding/json"
	"io"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

// TraceConfig controls step tracing. Memory and storage snapshots are only
// taken when asked for since they dominate the cost of a trace.
type TraceConfig struct {
	Enabled       bool
	EnableMemory  bool
	EnableStorage bool
	// Tracer, if set, receives every step as it is recorded.
	Tracer Tracer
}

// ProgramTrace is the state of a frame just before one instruction ran.
type ProgramTrace struct {
	Address types.Address
	// Index counts steps across the whole execution, Step within the frame.
	Index int
	Step  int

	PC      uint64
	Op      OpCode
	Gas     uint64
	GasCost uint64
	// Stack is ordered top to bottom.
	Stack   []uint256.Int
	MemSize int
	Memory  []byte
	// Storage is the frame account's storage, captured on SLOAD and SSTORE.
	Storage map[types.Hash]types.Hash
	Depth   int
	Refund  int64
	Err     error
}

type traceJSON struct {
	PC      uint64                    `json:"pc"`
	Op      int                       `json:"op"`
	Gas     hexutil.Uint64            `json:"gas"`
	GasCost hexutil.Uint64            `json:"gasCost"`
	MemSize int                       `json:"memSize"`
	Memory  hexutil.Bytes             `json:"memory,omitempty"`
	Stack   []string                  `json:"stack"`
	Storage map[types.Hash]types.Hash `json:"storage,omitempty"`
	Depth   int                       `json:"depth"`
	Refund  int64                     `json:"refund"`
	OpName  string                    `json:"opName"`
	Error   string                    `json:"error,omitempty"`
}

// MarshalJSON encodes the step in the EIP-3155 layout.
func (t *ProgramTrace) MarshalJSON() ([]byte, error) {
	enc := traceJSON{
		PC:      t.PC,
		Op:      int(t.Op),
		Gas:     hexutil.Uint64(t.Gas),
		GasCost: hexutil.Uint64(t.GasCost),
		MemSize: t.MemSize,
		Memory:  t.Memory,
		Stack:   t.StackHex(),
		Storage: t.Storage,
		Depth:   t.Depth,
		Refund:  t.Refund,
		OpName:  t.Op.String(),
	}
	if t.Err != nil {
		enc.Error = t.Err.Error()
	}
	return json.Marshal(&enc)
}

// StackHex returns the stack as minimal 0x-prefixed hex, top first.
func (t *ProgramTrace) StackHex() []string {
	out := make([]string, len(t.Stack))
	for i := range t.Stack {
		out[i] = t.Stack[i].Hex()
	}
	return out
}

// Tracer receives steps while the simulator runs.
type Tracer interface {
	// CaptureStep is called once per instruction after gas is charged and
	// before the instruction executes.
	CaptureStep(t *ProgramTrace)
	// CaptureEnd is called when the outermost frame finishes.
	CaptureEnd(output []byte, gasUsed uint64, err error)
}

// newTrace snapshots p before op executes.
func newTrace(p *Program, op OpCode, cfg *TraceConfig) ProgramTrace {
	data := p.Stack.Data()
	stack := make([]uint256.Int, len(data))
	for i := range data {
		stack[i] = data[len(data)-1-i]
	}
	t := ProgramTrace{
		Address: p.Address(),
		Step:    p.steps,
		PC:      p.pc,
		Op:      op,
		Gas:     p.GasRemaining,
		Stack:   stack,
		MemSize: p.Memory.Len(),
		Depth:   p.Depth,
		Refund:  p.RefundCounter,
	}
	if cfg.EnableMemory {
		t.Memory = p.Memory.GetCopy(0, uint64(p.Memory.Len()))
	}
	if cfg.EnableStorage && (op == SLOAD || op == SSTORE) && p.Stack.Len() > 0 {
		st := p.Context.State
		// Load the accessed slot so the snapshot includes it.
		st.GetFromStorage(p.Address(), types.Hash(p.Stack.Peek().Bytes32()))
		t.Storage = maps.Clone(st.CreateOrGetAccountExecutionState(p.Address()).Storage)
	}
	return t
}

// JSONTraceWriter streams one JSON object per step followed by a summary
// line, as EIP-3155 prescribes.
type JSONTraceWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONTraceWriter returns a tracer writing to w.
func NewJSONTraceWriter(w io.Writer) *JSONTraceWriter {
	return &JSONTraceWriter{enc: json.NewEncoder(w)}
}

// CaptureStep implements Tracer.
func (w *JSONTraceWriter) CaptureStep(t *ProgramTrace) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = w.enc.Encode(t)
	}
}

type traceSummary struct {
	Output  hexutil.Bytes  `json:"output"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Error   string         `json:"error,omitempty"`
}

// CaptureEnd implements Tracer.
func (w *JSONTraceWriter) CaptureEnd(output []byte, gasUsed uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	summary := traceSummary{Output: output, GasUsed: hexutil.Uint64(gasUsed)}
	if err != nil {
		summary.Error = err.Error()
	}
	if w.err == nil {
		w.err = w.enc.Encode(&summary)
	}
}

// Err returns the first write error, if any.
func (w *JSONTraceWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
