package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/hwsim/libaes-go/base"
)

// KeyRegs is the number of 32-bit key registers, enough for a 256-bit key.
const KeyRegs = 8

// keyStore owns the key register file. Register writes accumulate key
// material; only an explicit load with a declared bit length activates it.
type keyStore struct {
	regs   [KeyRegs]uint32
	keylen uint16 // active length in bits, valid only when loaded
	loaded bool
	zeroed bool // no key write since the last wipe
}

func (k *keyStore) write(pos int, val uint32) error {
	if pos < 0 || pos >= KeyRegs {
		return fmt.Errorf("%w: key register %d out of range", base.ErrProtocolViolation, pos)
	}
	k.regs[pos] = val
	k.zeroed = false
	return nil
}

func (k *keyStore) load(bits int) error {
	switch bits {
	case 128, 192, 256:
	default:
		return fmt.Errorf("%w: %d bits", base.ErrInvalidKeyLength, bits)
	}
	if k.zeroed {
		// wiped and never rewritten, there is nothing to load
		return base.ErrKeyNotLoaded
	}
	k.keylen = uint16(bits)
	k.loaded = true
	return nil
}

func (k *keyStore) zero() {
	for i := range k.regs {
		k.regs[i] = 0
	}
	k.keylen = 0
	k.loaded = false
	k.zeroed = true
}

// material composes the active key bytes, MSB-first word order. Only the
// leading keylen/32 registers participate; the rest are ignored until a
// subsequent load.
func (k *keyStore) material() []byte {
	key := make([]byte, int(k.keylen)/8)
	for i := 0; i < len(key)>>2; i++ {
		binary.BigEndian.PutUint32(key[i<<2:], k.regs[i])
	}
	return key
}
