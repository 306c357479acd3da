package gcm

// State is the flat, serializable slice of a running message. The key
// schedule, the product tables and the open keystream block are not part
// of it; Restore rederives those from the key schedule, the nonce and the
// persisted byte counts.
type State struct {
	S      [BlockSize]byte
	Stage  [BlockSize]byte
	Staged int
	AADLen uint64
	PTLen  uint64
}

func (g *Context) State() State {
	return State{
		S:      g.s,
		Stage:  g.stage,
		Staged: g.staged,
		AADLen: g.aadlen,
		PTLen:  g.ptlen,
	}
}

// Restore resumes a message exactly where State captured it. The counter
// block follows from the payload byte count, an open keystream block is
// re-encrypted deterministically.
func (g *Context) Restore(iv []byte, st *State) {
	copy(g.j0[:NonceSize], iv[:NonceSize])
	blocks := (st.PTLen + BlockSize - 1) / BlockSize
	set32(g.j0[:], 1+uint32(blocks))
	g.s = st.S
	g.stage = st.Stage
	g.staged = st.Staged
	g.aadlen = st.AADLen
	g.ptlen = st.PTLen
	g.maskoff = BlockSize
	if r := int(st.PTLen % BlockSize); r != 0 {
		g.aes.Encrypt(g.mask[:], g.j0[:])
		g.maskoff = r
	}
}
