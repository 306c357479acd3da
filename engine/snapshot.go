package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/hwsim/libaes-go/base"
	"github.com/hwsim/libaes-go/gcm"
)

// Snapshot is the flat, serializable device state for an external
// save/restore transport. The round-key schedule, the hash subkey tables
// and an open keystream block are deliberately absent; Restore rederives
// them from the key registers, the IV and the persisted byte counts.
type Snapshot struct {
	Key       [KeyRegs]uint32
	KeyLen    uint16
	KeyLoaded bool
	KeyZeroed bool

	Phase     Phase
	Encrypt   bool
	TagOK     bool
	InpReady  bool
	AADClosed bool
	IV        [4]uint32
	Tag       [4]uint32
	Word      [4]byte
	WordLen   int

	Active bool      // a message is begun and the gcm state below is live
	GCM    gcm.State
}

func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		Key:       e.keys.regs,
		KeyLen:    e.keys.keylen,
		KeyLoaded: e.keys.loaded,
		KeyZeroed: e.keys.zeroed,
		Phase:     e.phase,
		Encrypt:   e.encrypt,
		TagOK:     e.tagOK,
		InpReady:  e.inpReady,
		AADClosed: e.aadClosed,
		IV:        e.iv,
		Tag:       e.tag,
		Word:      e.word,
		WordLen:   e.nword,
	}
	if e.begun {
		s.Active = true
		s.GCM = e.ctx.State()
	}
	return s
}

// Restore replaces the whole device state with the snapshot, rederiving
// the key schedule and, for an active message, the counter and keystream
// position. The busy and done lines come up deasserted.
func (e *Engine) Restore(s *Snapshot) error {
	e.keys = keyStore{regs: s.Key, keylen: s.KeyLen, loaded: s.KeyLoaded, zeroed: s.KeyZeroed}
	e.ctx = nil
	if s.KeyLoaded {
		ctx, err := gcm.New(e.keys.material())
		if err != nil {
			return err
		}
		e.ctx = ctx
	}
	e.phase = s.Phase
	e.encrypt = s.Encrypt
	e.tagOK = s.TagOK
	e.inpReady = s.InpReady
	e.aadClosed = s.AADClosed
	e.iv = s.IV
	e.tag = s.Tag
	e.word = s.Word
	e.nword = s.WordLen
	e.begun = false
	if s.Active {
		if e.ctx == nil {
			return fmt.Errorf("%w: snapshot carries an active message without a loaded key", base.ErrProtocolViolation)
		}
		var nonce [gcm.NonceSize]byte
		binary.BigEndian.PutUint32(nonce[0:], s.IV[0])
		binary.BigEndian.PutUint32(nonce[4:], s.IV[1])
		binary.BigEndian.PutUint32(nonce[8:], s.IV[2])
		st := s.GCM
		e.ctx.Restore(nonce[:], &st)
		e.begun = true
	}
	e.setBusy(false)
	e.setDone(false)
	return nil
}
