package vm

// bitvec marks which code positions are push data. A set bit means the byte
// is an immediate and therefore never a valid jump destination.
type bitvec []byte

func (bits bitvec) set(pos uint64) {
	bits[pos/8] |= 0x80 >> (pos % 8)
}

func (bits bitvec) codeSegment(pos uint64) bool {
	return bits[pos/8]&(0x80>>(pos%8)) == 0
}

// codeBitmap walks code once and marks every PUSH immediate. The vector is
// padded so a PUSH32 at the very end cannot index past it.
func codeBitmap(code []byte) bitvec {
	bits := make(bitvec, len(code)/8+1+4)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		pc++
		if !op.IsPush() {
			continue
		}
		n := uint64(op.PushSize())
		for i := uint64(0); i < n; i++ {
			bits.set(pc + i)
		}
		pc += n
	}
	return bits
}
