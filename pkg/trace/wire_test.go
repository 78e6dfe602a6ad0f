package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelaySeptetBoundaries(t *testing.T) {
	cases := []struct {
		delay uint64
		want  []byte
	}{
		{0, []byte{0x80}},
		{1, []byte{0x81}},
		{127, []byte{0xFF}},
		{128, []byte{0x81, 0x80}},
		{128*128 - 1, []byte{0xFF, 0xFF}},
		{128 * 128, []byte{0x81, 0x80, 0x80}},
		{1<<21 - 1, []byte{0xFF, 0xFF, 0xFF}},
		{1 << 21, []byte{0x81, 0x80, 0x80, 0x80}},
		{1<<28 - 1, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{1 << 28, []byte{0x81, 0x80, 0x80, 0x80, 0x80}},
		{MaxDelay, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{0x10000, []byte{0x84, 0x80, 0x80}},
	}

	for _, tc := range cases {
		assert.Equal(t, len(tc.want), DelaySeptets(tc.delay), "septets for %d", tc.delay)
		assert.Equal(t, tc.want, AppendDelay(nil, tc.delay), "encoding of %d", tc.delay)
	}
}

func TestTags(t *testing.T) {
	assert.Equal(t, byte(0x40), EventTag(0))
	assert.Equal(t, byte(0x7E), EventTag(62))
	assert.Equal(t, byte(0x00), SpecialTag(SpecialDone))
	assert.Equal(t, byte(0x01), SpecialTag(SpecialOverrun))
	assert.Equal(t, byte(0x02), SpecialTag(SpecialThrottle))
	assert.Equal(t, byte(0x03), SpecialTag(SpecialDethrottle))

	for b := 0; b < 256; b++ {
		classes := 0
		for _, is := range []func(byte) bool{IsDelay, IsEvent, IsSpecial} {
			if is(byte(b)) {
				classes++
			}
		}
		assert.Equal(t, 1, classes, "byte %#02x", b)
	}
}

func TestAppendEventData(t *testing.T) {
	assert.Empty(t, AppendEventData(nil, 0, 0xFF))
	assert.Equal(t, []byte{0x05}, AppendEventData(nil, 3, 0x05))
	assert.Equal(t, []byte{0x01, 0x23}, AppendEventData(nil, 9, 0x123))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, AppendEventData(nil, 32, 0xDEADBEEF))
}

func TestSpecialString(t *testing.T) {
	assert.Equal(t, "THROTTLE_ON", SpecialThrottle.String())
	assert.Equal(t, "Special(9)", Special(9).String())
}
