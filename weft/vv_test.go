package weft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVV_PutCovers(t *testing.T) {
	vv := VV{}
	vv.Put(1, 3)
	vv.Put(2, 1)

	assert.True(t, vv.Covers(ID{Src: 1, Seq: 3}))
	assert.True(t, vv.Covers(ID{Src: 2, Seq: 1}))
	assert.False(t, vv.Covers(ID{Src: 1, Seq: 4}))
	assert.False(t, vv.Covers(ID{Src: 3, Seq: 1}))

	// Put keeps the maximum
	vv.Put(1, 2)
	assert.Equal(t, uint64(3), vv.Get(1))
}

func TestVV_TLVRoundTrip(t *testing.T) {
	vv := VV{1: 5, 2: 1, 0x1fade: 0xcafe}
	got, err := VVFromTLV(vv.TLV())
	assert.Nil(t, err)
	assert.Equal(t, vv, got)
}

func TestVV_TLVEmpty(t *testing.T) {
	got, err := VVFromTLV(VV{}.TLV())
	assert.Nil(t, err)
	assert.Equal(t, VV{}, got)
}

func TestVV_TLVGarbage(t *testing.T) {
	_, err := VVFromTLV([]byte{0xff, 0x01, 0x02})
	assert.NotNil(t, err)
}

func TestID_ZipRoundTrip(t *testing.T) {
	ids := []ID{
		{Src: 1, Seq: 1},
		{Src: 0xbeef, Seq: 0x1e},
		{Src: 1 << 52, Seq: 1 << 40},
	}
	for _, id := range ids {
		got, err := IDFromZipBytes(id.ZipBytes())
		assert.Nil(t, err)
		assert.Equal(t, id, got)
	}
}

func TestVV_Seen(t *testing.T) {
	vv := VV{1: 3, 2: 1}
	assert.True(t, vv.Seen(VV{}))
	assert.True(t, vv.Seen(VV{1: 3}))
	assert.True(t, vv.Seen(VV{1: 2, 2: 1}))
	assert.False(t, vv.Seen(VV{1: 4}))
	assert.False(t, vv.Seen(VV{3: 1}))
}

func TestID_ParseRoundTrip(t *testing.T) {
	for _, id := range []ID{{Src: 1, Seq: 1}, {Src: 0xbeef, Seq: 0x1e}} {
		got, err := ParseID(id.String())
		assert.Nil(t, err)
		assert.Equal(t, id, got)
		assert.Equal(t, id.Next(), ID{Src: id.Src, Seq: id.Seq + 1})
	}
	_, err := ParseID("nodash")
	assert.NotNil(t, err)
	_, err = ParseID("zz-1")
	assert.NotNil(t, err)
}

func TestID_Less(t *testing.T) {
	assert.True(t, ID{Src: 2, Seq: 1}.Less(ID{Src: 1, Seq: 2}))
	assert.True(t, ID{Src: 1, Seq: 2}.Less(ID{Src: 2, Seq: 2}))
	assert.False(t, ID{Src: 2, Seq: 2}.Less(ID{Src: 2, Seq: 2}))
}
