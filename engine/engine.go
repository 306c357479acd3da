// Package engine models a register-driven streaming AES-GCM engine: key
// material, IV, additional authenticated data and payload arrive through a
// small set of byte-stream operations and come out as ciphertext or
// plaintext plus an authentication tag.
//
// A message walks a strict phase order. The host writes key words, loads
// the key with a declared bit length and starts a message; the first 16
// pushed bytes fill the four IV words, then AAD and payload stream in
// host-determined amounts, then the tag phase completes the message:
//
//	eng := engine.New(&engine.Settings{Logger: logger})
//	_ = eng.WriteKey(0, 0x00112233)
//	...
//	err = eng.LoadKey(256)
//	eng.StartMessage(true)
//	out, err = eng.PushData(nil, append(iv, plaintext...), ptr.To(2))
//	tag := eng.Tag()
//
// The AAD/payload boundary is declared by operation choice: PushAAD feeds
// the AAD phase, the first PushData call closes it. The last-word marker
// (nil = more to come, 0 or 4 = aligned final word, 1..3 = short final
// word) closes the payload phase of the call it appears in.
//
// All operations are synchronous and run to completion; the engine holds
// exactly one message's worth of state and must not be shared between
// goroutines without external locking.
package engine

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/hwsim/libaes-go/base"
	"github.com/hwsim/libaes-go/gcm"
)

// Settings carries the optional collaborators of the engine. The busy and
// done lines are driven synchronously from within push calls; interrupt
// routing is up to the receiver.
type Settings struct {
	Logger *zap.SugaredLogger
	Busy   base.Signal
	Done   base.Signal
}

var _ base.Peripheral = (*Engine)(nil)

// Engine is one device instance. The zero value is not usable; construct
// with New, which returns the engine in reset state.
type Engine struct {
	logger *zap.SugaredLogger
	sbusy  base.Signal
	sdone  base.Signal

	keys keyStore
	ctx  *gcm.Context

	phase     Phase
	encrypt   bool
	tagOK     bool
	inpReady  bool
	busy      bool
	done      bool
	begun     bool // gcm context carries a live message
	aadClosed bool
	iv        [4]uint32
	tag       [4]uint32
	word      [4]byte // partial 32-bit word assembly
	nword     int
}

func New(settings *Settings) *Engine {
	e := &Engine{}
	if settings != nil {
		e.logger = settings.Logger
		e.sbusy = settings.Busy
		e.sdone = settings.Done
	}
	return e
}

func (e *Engine) logf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Infof(format, v...)
	}
}

func (e *Engine) SetLogger(logger *zap.SugaredLogger) {
	e.logger = logger
}

// Reset restores the power-on state, including the key registers and the
// derived schedule, and deasserts both output lines.
func (e *Engine) Reset() {
	e.keys = keyStore{}
	e.ctx = nil
	e.phase = PhaseIdle
	e.encrypt = false
	e.tagOK = false
	e.inpReady = false
	e.begun = false
	e.aadClosed = false
	e.iv = [4]uint32{}
	e.tag = [4]uint32{}
	e.word = [4]byte{}
	e.nword = 0
	e.setBusy(false)
	e.setDone(false)
}

// WriteKey overwrites one 32-bit key register. The written material takes
// effect only on the next LoadKey.
func (e *Engine) WriteKey(pos int, val uint32) error {
	return e.keys.write(pos, val)
}

// KeyReg reads back one key register.
func (e *Engine) KeyReg(pos int) (uint32, error) {
	if pos < 0 || pos >= KeyRegs {
		return 0, fmt.Errorf("%w: key register %d out of range", base.ErrProtocolViolation, pos)
	}
	return e.keys.regs[pos], nil
}

// LoadKey activates the leading bits/32 key registers and computes the
// round-key schedule and hash subkey tables. bits has to be 128, 192 or
// 256. Loading while a message is in progress is a usage error with
// undefined message outcome; the load itself always takes effect.
func (e *Engine) LoadKey(bits int) error {
	if err := e.keys.load(bits); err != nil {
		return err
	}
	ctx, err := gcm.New(e.keys.material())
	if err != nil {
		return err
	}
	e.ctx = ctx
	e.logf("key loaded, %d bits", bits)
	return nil
}

// ZeroKey wipes all key registers and drops the derived schedule. Callable
// at any time and effective immediately; a message left in flight fails
// its next push with ErrProtocolViolation.
func (e *Engine) ZeroKey() {
	e.keys.zero()
	e.ctx = nil
	e.logf("key registers zeroed")
}

// StartMessage latches the direction and rewinds the phase cursor to the
// first IV word. The done line is deasserted until the new message
// completes its tag phase.
func (e *Engine) StartMessage(encrypt bool) {
	e.phase = PhaseIV0
	e.encrypt = encrypt
	e.tagOK = false
	e.begun = false
	e.aadClosed = false
	e.nword = 0
	e.inpReady = true
	e.setDone(false)
	e.logf("message started, encrypt=%v", encrypt)
}

// PushAAD streams additional authenticated data. While IV words are still
// outstanding the leading bytes fill those first, so a single call may
// span the IV and AAD phases. A last-word marker closes the AAD phase
// explicitly; otherwise the first PushData call closes it.
func (e *Engine) PushAAD(data []byte, last *int) error {
	e.setBusy(true)
	defer e.setBusy(false)

	if e.phase == PhaseIdle {
		return fmt.Errorf("%w: no message in progress", base.ErrProtocolViolation)
	}
	if err := e.checkKey(); err != nil {
		return err
	}
	lw, err := lastLen(last)
	if err != nil {
		return err
	}
	if e.phase != PhaseAAD && !e.phase.iv() || e.aadClosed {
		return fmt.Errorf("%w: aad not acceptable in phase %v", base.ErrProtocolViolation, e.phase)
	}

	data = e.feedIV(data)
	if e.phase.iv() {
		if lw >= 0 {
			return fmt.Errorf("%w: iv incomplete", base.ErrProtocolViolation)
		}
		return nil
	}

	avail := e.nword + len(data)
	commit, err := e.commitLen(avail, lw)
	if err != nil {
		return err
	}
	if commit > 0 {
		if e.nword > 0 {
			e.ctx.AbsorbAAD(e.word[:e.nword])
			commit -= e.nword
			e.nword = 0
		}
		e.ctx.AbsorbAAD(data[:commit])
		data = data[commit:]
	}
	e.nword += copy(e.word[e.nword:], data)
	if lw >= 0 {
		e.aadClosed = true
	}
	return nil
}

// PushData streams payload bytes and, in the decrypt direction, the
// expected tag words. IV words still outstanding are filled first; the
// first PushData call that carries payload (or a last-word marker) closes
// the AAD phase. The marker closes the payload phase: the encrypt
// direction then computes the tag registers and completes, the decrypt
// direction consumes four more tag words from subsequent pushes before
// latching the verdict. Produced output is returned, reusing ret when it
// has the capacity; ret and data can overlap, but exactly.
func (e *Engine) PushData(ret []byte, data []byte, last *int) ([]byte, error) {
	e.setBusy(true)
	defer e.setBusy(false)

	if e.phase == PhaseIdle {
		return nil, fmt.Errorf("%w: no message in progress", base.ErrProtocolViolation)
	}
	if err := e.checkKey(); err != nil {
		return nil, err
	}
	lw, err := lastLen(last)
	if err != nil {
		return nil, err
	}

	if e.phase.iv() {
		data = e.feedIV(data)
		if e.phase.iv() {
			if lw >= 0 {
				return nil, fmt.Errorf("%w: iv incomplete", base.ErrProtocolViolation)
			}
			return ret[:0], nil
		}
	}

	if e.phase == PhaseAAD {
		if len(data) == 0 && lw < 0 {
			return ret[:0], nil // nothing declared yet, aad may still follow
		}
		if e.nword > 0 {
			e.ctx.AbsorbAAD(e.word[:e.nword])
			e.nword = 0
		}
		e.ctx.FinishAAD()
		e.phase = e.phase.next()
		e.logf("aad closed, entering payload phase")
	}

	if e.phase == PhasePayload {
		avail := e.nword + len(data)
		commit, err := e.commitLen(avail, lw)
		if err != nil {
			return nil, err
		}
		out := ensure(ret, commit)
		o := 0
		if commit > 0 && e.nword > 0 {
			// place the new bytes first so the transform below sees an
			// exact overlap even when out aliases data
			o = e.nword
			copy(out[o:commit], data[:commit-o])
			e.ctx.Payload(out[:o], e.word[:o], e.encrypt)
			e.ctx.Payload(out[o:commit], out[o:commit], e.encrypt)
			e.nword = 0
		} else {
			e.ctx.Payload(out[:commit], data[:commit], e.encrypt)
		}
		data = data[commit-o:]
		e.nword += copy(e.word[e.nword:], data)
		if lw < 0 {
			return out, nil
		}
		if e.encrypt {
			e.emitTag()
			return out, nil
		}
		e.phase = e.phase.next()
		e.nword = 0
		return out, nil
	}

	// decrypt direction tag words
	if lw > 0 {
		return nil, fmt.Errorf("%w: tag words are full words", base.ErrProtocolViolation)
	}
	for e.phase.tag() && len(data) > 0 {
		n := copy(e.word[e.nword:], data)
		e.nword += n
		data = data[n:]
		if e.nword < 4 {
			break
		}
		e.tag[e.phase-PhaseTag0] = binary.BigEndian.Uint32(e.word[:])
		e.nword = 0
		e.phase = e.phase.next()
	}
	if e.phase != PhaseIdle {
		return ret[:0], nil
	}
	e.verifyTag()
	if len(data) > 0 {
		return ret[:0], fmt.Errorf("%w: %d bytes past end of message", base.ErrProtocolViolation, len(data))
	}
	if !e.tagOK {
		return ret[:0], base.ErrAuthenticationFailed
	}
	return ret[:0], nil
}

// Tag returns the four tag registers: the computed tag after an encrypt
// message, the host-supplied expected tag after a decrypt message.
func (e *Engine) Tag() [4]uint32 {
	return e.tag
}

// TagOK is the decrypt-direction authentication verdict, valid once Done.
func (e *Engine) TagOK() bool {
	return e.tagOK
}

// Done reports a completed tag phase; cleared by the next StartMessage.
func (e *Engine) Done() bool {
	return e.done
}

// Busy is true only while a push call is processing.
func (e *Engine) Busy() bool {
	return e.busy
}

// InputReady reports whether the engine accepts stream bytes.
func (e *Engine) InputReady() bool {
	return e.inpReady
}

// KeyZeroed reports an explicit wipe with no key write since.
func (e *Engine) KeyZeroed() bool {
	return e.keys.zeroed
}

// KeyLoaded reports whether a key schedule is active.
func (e *Engine) KeyLoaded() bool {
	return e.ctx != nil
}

func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) setBusy(level bool) {
	e.busy = level
	if e.sbusy != nil {
		e.sbusy(level)
	}
}

func (e *Engine) setDone(level bool) {
	e.done = level
	if e.sdone != nil {
		e.sdone(level)
	}
}

func (e *Engine) checkKey() error {
	if e.ctx != nil {
		return nil
	}
	if e.begun {
		return fmt.Errorf("%w: key zeroed mid-message", base.ErrProtocolViolation)
	}
	return base.ErrKeyNotLoaded
}

// feedIV assembles pushed bytes into IV words while the phase cursor is in
// the IV range and starts the gcm context once the fourth word latches.
func (e *Engine) feedIV(data []byte) []byte {
	for e.phase.iv() && len(data) > 0 {
		n := copy(e.word[e.nword:], data)
		e.nword += n
		data = data[n:]
		if e.nword < 4 {
			break
		}
		e.iv[e.phase-PhaseIV0] = binary.BigEndian.Uint32(e.word[:])
		e.nword = 0
		e.phase = e.phase.next()
	}
	if e.phase == PhaseAAD && !e.begun {
		e.beginMessage()
	}
	return data
}

func (e *Engine) beginMessage() {
	// the standard 96-bit nonce comes from the first three IV words; the
	// fourth is latched in the register file but the counter field always
	// seeds at 1
	var nonce [gcm.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:], e.iv[0])
	binary.BigEndian.PutUint32(nonce[4:], e.iv[1])
	binary.BigEndian.PutUint32(nonce[8:], e.iv[2])
	e.ctx.Begin(nonce[:])
	e.begun = true
	e.logf("iv complete, entering aad phase")
}

// commitLen returns how many of the pending-plus-new bytes commit to the
// current phase. Without a marker only whole words commit; a marker
// commits everything and the trailing byte count must match it.
func (e *Engine) commitLen(avail int, lw int) (int, error) {
	if lw < 0 {
		return avail &^ 3, nil
	}
	if avail&3 != lw {
		return 0, fmt.Errorf("%w: %d trailing bytes do not match declared sub-word length %d", base.ErrProtocolViolation, avail&3, lw)
	}
	return avail, nil
}

func (e *Engine) emitTag() {
	tag := e.ctx.Finish()
	for i := range e.tag {
		e.tag[i] = binary.BigEndian.Uint32(tag[i<<2:])
	}
	e.complete()
}

func (e *Engine) verifyTag() {
	want := e.ctx.Finish()
	var got [gcm.TagSize]byte
	for i, w := range e.tag {
		binary.BigEndian.PutUint32(got[i<<2:], w)
	}
	e.tagOK = subtle.ConstantTimeCompare(want[:], got[:]) == 1
	e.complete()
	e.logf("tag verdict: ok=%v", e.tagOK)
}

func (e *Engine) complete() {
	e.phase = PhaseIdle
	e.begun = false
	e.inpReady = false
	e.nword = 0
	e.setDone(true)
	e.logf("message complete")
}

// lastLen validates the optional sub-word marker: -1 means no final word
// in this call, otherwise the count of valid bytes in the final word
// normalized to 0..3 (0 for an aligned final word).
func lastLen(last *int) (int, error) {
	if last == nil {
		return -1, nil
	}
	lw := *last
	if lw < 0 || lw > 4 {
		return 0, fmt.Errorf("%w: invalid sub-word length %d", base.ErrProtocolViolation, lw)
	}
	return lw & 3, nil
}

func ensure(ret []byte, n int) []byte {
	if cap(ret) >= n {
		return ret[:n]
	}
	return make([]byte, n)
}
