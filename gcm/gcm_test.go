package gcm

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NIST SP 800-38D sample vectors (McGrew/Viega test cases).
var vectors = []struct {
	name string
	key  string
	iv   string
	aad  string
	pt   string
	ct   string
	tag  string
}{
	{
		name: "aes128/empty",
		key:  "00000000000000000000000000000000",
		iv:   "000000000000000000000000",
		tag:  "58e2fccefa7e3061367f1d57a4e7455a",
	},
	{
		name: "aes128/zero-block",
		key:  "00000000000000000000000000000000",
		iv:   "000000000000000000000000",
		pt:   "00000000000000000000000000000000",
		ct:   "0388dace60b683a993de3bd02739bb06",
		tag:  "ab6e47d42cec13bdf53a67b21257bda1",
	},
	{
		name: "aes128/aad",
		key:  "feffe9928665731c6d6a8f9467308308",
		iv:   "cafebabefacedbaddecaf888",
		aad:  "feedfacedeadbeeffeedfacedeadbeefabaddad2",
		pt:   "d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a721c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b39",
		ct:   "42831ec2217774244b7221b784d0d49ce3aa212f2c02a4e035c17e2329aca12e21d514b25466931c7d8f6a5aac84aa051ba30b396a0aac973d58e091",
		tag:  "5bc94fbc3221a5db94fae95ae7121a47",
	},
	{
		name: "aes192/aad",
		key:  "feffe9928665731c6d6a8f9467308308feffe9928665731c",
		iv:   "cafebabefacedbaddecaf888",
		aad:  "feedfacedeadbeeffeedfacedeadbeefabaddad2",
		pt:   "d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a721c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b39",
		ct:   "3980ca0b3c00e841eb06fac4872a2757859e1ceaa6efd984628593b40ca1e19c7d773d00c144c525ac619d18c84a3f4718e2448b2fe324d9ccda2710",
		tag:  "2519498e80f1478f37ba55bd6d27618c",
	},
	{
		name: "aes256/aad",
		key:  "feffe9928665731c6d6a8f9467308308feffe9928665731c6d6a8f9467308308",
		iv:   "cafebabefacedbaddecaf888",
		aad:  "feedfacedeadbeeffeedfacedeadbeefabaddad2",
		pt:   "d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a721c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b39",
		ct:   "522dc1f099567d07f47f37a32a84427d643a8cdcbfe5c0c97598a2bd2555d1aa8cb08e48590dbb3da7b08b1056828838c5f61e6393ba7a0abcc9f662",
		tag:  "76fc6ece0f4e1768cddf8853bb2d551b",
	},
}

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestVectorsEncrypt(t *testing.T) {
	for _, v := range vectors {
		t.Run(v.name, func(t *testing.T) {
			g, err := New(unhex(t, v.key))
			require.NoError(t, err)
			g.Begin(unhex(t, v.iv))
			g.AbsorbAAD(unhex(t, v.aad))
			g.FinishAAD()

			pt := unhex(t, v.pt)
			ct := make([]byte, len(pt))
			g.Payload(ct, pt, true)
			tag := g.Finish()

			assert.Equal(t, v.ct, hex.EncodeToString(ct))
			assert.Equal(t, v.tag, hex.EncodeToString(tag[:]))
		})
	}
}

func TestVectorsDecrypt(t *testing.T) {
	for _, v := range vectors {
		t.Run(v.name, func(t *testing.T) {
			g, err := New(unhex(t, v.key))
			require.NoError(t, err)
			g.Begin(unhex(t, v.iv))
			g.AbsorbAAD(unhex(t, v.aad))
			g.FinishAAD()

			ct := unhex(t, v.ct)
			pt := make([]byte, len(ct))
			g.Payload(pt, ct, false)
			tag := g.Finish()

			assert.Equal(t, v.pt, hex.EncodeToString(pt))
			assert.Equal(t, v.tag, hex.EncodeToString(tag[:]))
		})
	}
}

func TestPayloadInPlace(t *testing.T) {
	for _, v := range vectors {
		t.Run(v.name, func(t *testing.T) {
			g, err := New(unhex(t, v.key))
			require.NoError(t, err)

			// encrypt with dst == src
			g.Begin(unhex(t, v.iv))
			g.AbsorbAAD(unhex(t, v.aad))
			g.FinishAAD()
			buf := unhex(t, v.pt)
			g.Payload(buf, buf, true)
			tag := g.Finish()
			assert.Equal(t, v.ct, hex.EncodeToString(buf))
			assert.Equal(t, v.tag, hex.EncodeToString(tag[:]))

			// decrypt in place must hash the ciphertext it just overwrote
			g.Begin(unhex(t, v.iv))
			g.AbsorbAAD(unhex(t, v.aad))
			g.FinishAAD()
			g.Payload(buf, buf, false)
			tag = g.Finish()
			assert.Equal(t, v.pt, hex.EncodeToString(buf))
			assert.Equal(t, v.tag, hex.EncodeToString(tag[:]))
		})
	}
}

func TestChunkedMatchesOneShot(t *testing.T) {
	v := vectors[2] // aes128 with aad, 60 byte payload
	key := unhex(t, v.key)
	iv := unhex(t, v.iv)
	aad := unhex(t, v.aad)
	pt := unhex(t, v.pt)

	for _, step := range []int{1, 3, 7, 16, 19} {
		g, err := New(key)
		require.NoError(t, err)
		g.Begin(iv)
		for i := 0; i < len(aad); i += step {
			g.AbsorbAAD(aad[i:min(i+step, len(aad))])
		}
		g.FinishAAD()

		ct := make([]byte, len(pt))
		for i := 0; i < len(pt); i += step {
			j := min(i+step, len(pt))
			g.Payload(ct[i:j], pt[i:j], true)
		}
		tag := g.Finish()

		assert.Equal(t, v.ct, hex.EncodeToString(ct), "step %d", step)
		assert.Equal(t, v.tag, hex.EncodeToString(tag[:]), "step %d", step)
	}
}

func TestStateRestoreMidPayload(t *testing.T) {
	v := vectors[4]
	key := unhex(t, v.key)
	iv := unhex(t, v.iv)
	aad := unhex(t, v.aad)
	pt := unhex(t, v.pt)

	for _, split := range []int{0, 5, 16, 21, 48} {
		g, err := New(key)
		require.NoError(t, err)
		g.Begin(iv)
		g.AbsorbAAD(aad)
		g.FinishAAD()

		ct := make([]byte, len(pt))
		g.Payload(ct[:split], pt[:split], true)

		st := g.State()
		r, err := New(key)
		require.NoError(t, err)
		r.Restore(iv, &st)

		r.Payload(ct[split:], pt[split:], true)
		tag := r.Finish()

		assert.Equal(t, v.ct, hex.EncodeToString(ct), "split %d", split)
		assert.Equal(t, v.tag, hex.EncodeToString(tag[:]), "split %d", split)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 8, 15, 17, 31, 33} {
		_, err := New(make([]byte, n))
		assert.Error(t, err, "key length %d", n)
	}
}
