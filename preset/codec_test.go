package preset

import (
	"testing"

	"github.com/gentam/norstore/storage"
	"github.com/stretchr/testify/assert"
)

func TestCodec_FitsRecord(t *testing.T) {
	p := sample(200)
	for _, v := range versions {
		t.Run(v.sig.String(), func(t *testing.T) {
			rec := make([]byte, RecordSize)
			assert.NotPanics(t, func() { encode(rec, &p, v) })
		})
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		rec    []byte
		want   storage.Signature
		wantOK bool
	}{
		{[]byte("PS4\x00"), SigPS4, true},
		{[]byte("PS3\x00"), SigPS3, true},
		{[]byte("PS2\x00"), SigPS2, true},
		{[]byte("PS1\x00"), storage.Signature{}, false},
		{[]byte{0, 0, 0, 0}, storage.Signature{}, false},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF}, storage.Signature{}, false},
	}
	for _, tt := range tests {
		sig, ok := Version(tt.rec)
		assert.Equal(t, tt.wantOK, ok, "%q", tt.rec)
		assert.Equal(t, tt.want, sig)
	}
}

func TestCodec_DecodeRejects(t *testing.T) {
	var p Preset
	assert.False(t, Codec{}.Decode(make([]byte, RecordSize), &p))
	assert.False(t, Codec{}.Decode([]byte("PS4\x00"), &p), "short record")
}

func TestCodec_MigrationDefaults(t *testing.T) {
	p := sample(33)
	rec := make([]byte, RecordSize)
	encode(rec, &p, versions[2])

	var got Preset
	assert.True(t, Codec{}.Decode(rec, &got))
	def := Default()
	for i := range got.Channels {
		assert.Equal(t, def.Channels[i].FineTune, got.Channels[i].FineTune)
		assert.Equal(t, def.Channels[i].KeyFollow, got.Channels[i].KeyFollow)
		assert.Equal(t, def.LFOs[i].Phase, got.LFOs[i].Phase)
		assert.Equal(t, def.LFOs[i].Locked, got.LFOs[i].Locked)
		assert.Equal(t, p.LFOs[i].Gain, got.LFOs[i].Gain)
	}
}
