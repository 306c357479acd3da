// Package gcm implements the AES-GCM context of the crypto engine: the
// block cipher binding, the GHASH accumulator and the counter-mode
// keystream, all consumable in arbitrary chunks so the caller can stream
// AAD and payload bytes as they arrive.
package gcm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/hwsim/libaes-go/base"
)

const (
	BlockSize = 16
	TagSize   = 16
	NonceSize = 12

	blockRot = 4
)

// no constant arrays in go, but these numbers are black magic
var last4 = [...]uint64{0x0000, 0x1c20, 0x3840, 0x2460, 0x7080, 0x6ca0, 0x48c0, 0x54e0, 0xe100, 0xfd20, 0xd940, 0xc560, 0x9180, 0x8da0, 0xa9c0, 0xb5e0}

// Context holds one message's worth of AES-GCM working state: the expanded
// key schedule, the GHASH product tables derived from it and the running
// counter/accumulator. It is reset for every message via Begin.
type Context struct {
	aes cipher.Block
	hl  [16]uint64
	hh  [16]uint64

	j0      [BlockSize]byte // current counter block, iv || ctr
	s       [BlockSize]byte // ghash accumulator
	stage   [BlockSize]byte // partial ghash input block
	staged  int
	mask    [BlockSize]byte // keystream block of the open payload block
	maskoff int             // consumed mask bytes, BlockSize means no open block
	aadlen  uint64
	ptlen   uint64
}

// New expands the key schedule and derives the GHASH product tables.
// The key has to be 16, 24 or 32 bytes long.
func New(key []byte) (*Context, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("%w: %d bytes", base.ErrInvalidKeyLength, len(key))
	}
	aa, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	g := Context{aes: aa, maskoff: BlockSize}
	g.makeTables()
	return &g, nil
}

// hash subkey is the encryption of the all-zero block
func (g *Context) makeTables() {
	var h [BlockSize]byte
	g.aes.Encrypt(h[:], h[:])

	vh := binary.BigEndian.Uint64(h[:])
	vl := binary.BigEndian.Uint64(h[8:])

	g.hl[8] = vl // 8 = 1000 corresponds to 1 in GF(2^128)
	g.hh[8] = vh

	for i := 4; i > 0; i >>= 1 {
		t := uint32(vl&1) * 0xe1000000
		vl = (vh << 63) | (vl >> 1)
		vh = (vh >> 1) ^ (uint64(t) << 32)
		g.hl[i] = vl
		g.hh[i] = vh
	}

	for i := 2; i < 16; i <<= 1 {
		vh = g.hh[i]
		vl = g.hl[i]
		for j := 1; j < i; j++ {
			g.hh[i+j] = vh ^ g.hh[j]
			g.hl[i+j] = vl ^ g.hl[j]
		}
	}
}

// Begin resets the message state for a fresh 96-bit nonce. The counter
// field seeds at 1 per the standard GCM construction.
func (g *Context) Begin(iv []byte) {
	copy(g.j0[:NonceSize], iv[:NonceSize])
	set32(g.j0[:], 1)
	memzero(g.s[:])
	g.staged = 0
	g.maskoff = BlockSize
	g.aadlen = 0
	g.ptlen = 0
}

// AbsorbAAD feeds additional authenticated data into the hash accumulator.
// It may be called repeatedly; the data does not touch the counter.
func (g *Context) AbsorbAAD(p []byte) {
	g.aadlen += uint64(len(p))
	if g.staged > 0 {
		n := copy(g.stage[g.staged:], p)
		g.staged += n
		p = p[n:]
		if g.staged < BlockSize {
			return
		}
		g.ghashBlock(g.stage[:])
		g.staged = 0
	}
	m := len(p) >> blockRot
	for i := 0; i < m; i++ {
		g.ghashBlock(p)
		p = p[BlockSize:]
	}
	g.staged = copy(g.stage[:], p)
}

// FinishAAD closes the AAD phase, zero-padding a trailing partial block.
// Must be called before the first payload byte, even when there is no AAD.
func (g *Context) FinishAAD() {
	g.flushStage()
}

// Payload transforms len(src) payload bytes into dst through the
// counter-mode keystream and feeds the ciphertext side into the hash
// accumulator. dst and src can overlap, but exactly. Chunk boundaries are
// free; state carries over between calls.
func (g *Context) Payload(dst []byte, src []byte, encrypt bool) {
	g.ptlen += uint64(len(src))
	for len(src) > 0 {
		if g.maskoff == BlockSize {
			inc32(g.j0[:])
			g.aes.Encrypt(g.mask[:], g.j0[:])
			g.maskoff = 0
		}
		n := BlockSize - g.maskoff
		if n > len(src) {
			n = len(src)
		}
		for i := 0; i < n; i++ {
			s := src[i]
			c := s ^ g.mask[g.maskoff]
			dst[i] = c
			if !encrypt {
				c = s // the accumulator always hashes ciphertext
			}
			g.stage[g.staged] = c
			g.staged++
			g.maskoff++
			if g.staged == BlockSize {
				g.ghashBlock(g.stage[:])
				g.staged = 0
			}
		}
		dst = dst[n:]
		src = src[n:]
	}
}

// Finish mixes in the length block and returns the authentication tag.
func (g *Context) Finish() (tag [TagSize]byte) {
	g.flushStage()

	var lenblk [BlockSize]byte
	binary.BigEndian.PutUint64(lenblk[:], g.aadlen<<3)
	binary.BigEndian.PutUint64(lenblk[8:], g.ptlen<<3)
	g.ghashBlock(lenblk[:])

	set32(g.j0[:], 1)
	g.aes.Encrypt(tag[:], g.j0[:])
	xorBlock(tag[:], g.s[:])
	return
}

func (g *Context) flushStage() {
	if g.staged == 0 {
		return
	}
	memzero(g.stage[g.staged:])
	g.ghashBlock(g.stage[:])
	g.staged = 0
}

// folds one full block into the accumulator
func (g *Context) ghashBlock(b []byte) {
	var tmp [BlockSize]byte
	xorBlock2(tmp[:], g.s[:], b)
	g.gfMult(tmp[:], g.s[:])
}

// x is not changed, dst is changed, this is really black magic...
func (g *Context) gfMult(x []byte, dst []byte) {
	lo := x[15] & 0x0f
	hi := x[15] >> 4

	zh := g.hh[lo]
	zl := g.hl[lo]

	rem := zl & 0x0f
	zl = ((zh << 60) | (zl >> 4)) ^ g.hl[hi]
	zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[hi]

	for i := 14; i >= 0; i-- {
		lo = x[i] & 0x0f
		hi = x[i] >> 4

		rem = zl & 0x0f
		zl = ((zh << 60) | (zl >> 4)) ^ g.hl[lo]
		zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[lo]
		rem = zl & 0x0f
		zl = ((zh << 60) | (zl >> 4)) ^ g.hl[hi]
		zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[hi]
	}
	binary.BigEndian.PutUint64(dst, zh)
	binary.BigEndian.PutUint64(dst[8:], zl)
}

func inc32(block []byte) {
	ctr := block[BlockSize-4:]
	binary.BigEndian.PutUint32(ctr, binary.BigEndian.Uint32(ctr)+1)
}

func set32(block []byte, val uint32) {
	binary.BigEndian.PutUint32(block[BlockSize-4:], val)
}

// dst is changed, src is not
func xorBlock(dst []byte, src []byte) {
	binary.NativeEndian.PutUint64(dst, binary.NativeEndian.Uint64(dst)^binary.NativeEndian.Uint64(src))
	binary.NativeEndian.PutUint64(dst[8:], binary.NativeEndian.Uint64(dst[8:])^binary.NativeEndian.Uint64(src[8:]))
}

func xorBlock2(dst []byte, src1 []byte, src2 []byte) {
	binary.NativeEndian.PutUint64(dst, binary.NativeEndian.Uint64(src1)^binary.NativeEndian.Uint64(src2))
	binary.NativeEndian.PutUint64(dst[8:], binary.NativeEndian.Uint64(src1[8:])^binary.NativeEndian.Uint64(src2[8:]))
}

func memzero(dst []byte) {
	for i := range dst {
		dst[i] = 0
	}
}
