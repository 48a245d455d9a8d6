package util

import (
	"fmt"
	"testing"

	"github.com/bmizerany/assert"
)

func ids(n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("pi-%d", i)
	}
	return res
}

func TestChunk(t *testing.T) {
	chunks := Chunk(ids(237), 50)
	assert.Equal(t, 5, len(chunks))
	assert.Equal(t, 50, len(chunks[0]))
	assert.Equal(t, 37, len(chunks[4]))
	assert.Equal(t, "pi-236", chunks[4][36])

	assert.Equal(t, 0, len(Chunk(nil, 10)))
	assert.Equal(t, 3, len(Chunk(ids(3), 0)))
}

func TestChunk_NoAliasingOnAppend(t *testing.T) {
	all := ids(4)
	chunks := Chunk(all, 2)
	_ = append(chunks[0], "extra")
	assert.Equal(t, "pi-2", all[2])
}

func TestWindow(t *testing.T) {
	all := ids(10)
	assert.Equal(t, []string{"pi-8", "pi-9"}, Window(all, 8, 5))
	assert.Equal(t, 0, len(Window(all, 10, 5)))
	assert.Equal(t, 0, len(Window(all, 0, 0)))
	assert.Equal(t, 3, len(Window(all, 0, 3)))
}

func TestMD5Bytes(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5Bytes([]byte("abc")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Bytes(nil))
}
