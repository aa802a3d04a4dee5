package vm

import "testing"

func TestJumpTableArithmetic(t *testing.T) {
	tbl := instructionSet(Cancun)

	tests := []struct {
		opcode   OpCode
		gas      uint64
		minStack int
	}{
		{STOP, 0, 0},
		{ADD, GasFastestStep, 2},
		{MUL, GasFastStep, 2},
		{SUB, GasFastestStep, 2},
		{DIV, GasFastStep, 2},
		{SDIV, GasFastStep, 2},
		{MOD, GasFastStep, 2},
		{SMOD, GasFastStep, 2},
		{ADDMOD, GasMidStep, 3},
		{MULMOD, GasMidStep, 3},
		{EXP, GasSlowStep, 2},
		{SIGNEXTEND, GasFastStep, 2},
	}
	for _, tt := range tests {
		t.Run(tt.opcode.String(), func(t *testing.T) {
			op := tbl[tt.opcode]
			if op == nil {
				t.Fatalf("%s not defined", tt.opcode)
			}
			if op.constantGas != tt.gas {
				t.Errorf("constantGas = %d, want %d", op.constantGas, tt.gas)
			}
			if op.minStack != tt.minStack {
				t.Errorf("minStack = %d, want %d", op.minStack, tt.minStack)
			}
		})
	}
}

func TestJumpTableCancunOpcodes(t *testing.T) {
	for _, fork := range []Fork{Cancun, Prague} {
		tbl := instructionSet(fork)
		for _, op := range []OpCode{PUSH0, TLOAD, TSTORE, MCOPY, BLOBHASH, BLOBBASEFEE, BASEFEE, CHAINID, SELFBALANCE} {
			if tbl[op] == nil {
				t.Errorf("%s: %s not defined", fork, op)
			}
		}
	}
}

func TestJumpTableUndefined(t *testing.T) {
	tbl := instructionSet(Prague)
	for _, b := range []byte{0x0c, 0x1e, 0x21, 0x4b, 0xa5, 0xef, 0xf6} {
		if tbl[OpCode(b)] != nil {
			t.Errorf("opcode %#x should be undefined", b)
		}
	}
}

func TestJumpTableStackBounds(t *testing.T) {
	tbl := instructionSet(Prague)
	for i, op := range tbl {
		if op == nil {
			continue
		}
		if op.execute == nil {
			t.Errorf("%s has no execute function", OpCode(i))
		}
		// maxStack is StackLimit + pops - pushes. No instruction grows the
		// stack by more than one word, and none pushes a negative count.
		if growth := StackLimit - op.maxStack; op.minStack < 0 || growth > 1 || op.maxStack > StackLimit+op.minStack {
			t.Errorf("%s: stack bounds [%d, %d]", OpCode(i), op.minStack, op.maxStack)
		}
	}
	// MSTORE pops two and pushes nothing.
	if op := tbl[MSTORE]; op.minStack != 2 || op.maxStack != StackLimit+2 {
		t.Errorf("MSTORE bounds [%d, %d]", op.minStack, op.maxStack)
	}
	// CALL pops seven and pushes one.
	if op := tbl[CALL]; op.minStack != 7 || op.maxStack != StackLimit+6 {
		t.Errorf("CALL bounds [%d, %d]", op.minStack, op.maxStack)
	}
	// DUP16 needs 16 items and pushes one.
	if op := tbl[DUP16]; op.minStack != 16 || op.maxStack != StackLimit-1 {
		t.Errorf("DUP16 bounds [%d, %d]", op.minStack, op.maxStack)
	}
	if op := tbl[SWAP16]; op.minStack != 17 || op.maxStack != StackLimit {
		t.Errorf("SWAP16 bounds [%d, %d]", op.minStack, op.maxStack)
	}
}

func TestJumpTableFlags(t *testing.T) {
	tbl := instructionSet(Prague)
	for _, op := range []OpCode{STOP, RETURN, REVERT, SELFDESTRUCT} {
		if !tbl[op].halts {
			t.Errorf("%s should halt", op)
		}
	}
	for _, op := range []OpCode{JUMP, JUMPI} {
		if !tbl[op].jumps {
			t.Errorf("%s should jump", op)
		}
	}
	for _, op := range []OpCode{SSTORE, TSTORE, LOG0, LOG4, CREATE, CREATE2, SELFDESTRUCT} {
		if !tbl[op].writes {
			t.Errorf("%s should be forbidden in a static context", op)
		}
	}
	if tbl[SLOAD].writes || tbl[CALL].writes {
		t.Error("SLOAD and CALL are not static-checked by the table")
	}
}
