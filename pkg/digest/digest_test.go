package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Digest of zero bytes — the value an empty artifact registers under.
const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestWriterEmptyStream(t *testing.T) {
	w := NewWriter()
	assert.Equal(t, emptyDigest, w.SumHex())
	assert.Equal(t, int64(0), w.Size())
}

func TestWriterKnownVector(t *testing.T) {
	w := NewWriter()
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", w.SumHex())
	assert.Equal(t, int64(3), w.Size())
}

func TestWriterChunkedWritesMatchSingleWrite(t *testing.T) {
	whole := NewWriter()
	_, err := whole.Write([]byte("hello world, this is a stream"))
	require.NoError(t, err)

	chunked := NewWriter()
	for _, chunk := range []string{"hello ", "world, ", "this is", " a stream"} {
		_, err := chunked.Write([]byte(chunk))
		require.NoError(t, err)
	}

	assert.Equal(t, whole.SumHex(), chunked.SumHex())
	assert.Equal(t, whole.Size(), chunked.Size())
}

func TestSumReader(t *testing.T) {
	sum, size, err := SumReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, SumBytes([]byte("abc")), sum)
	assert.Equal(t, int64(3), size)
}

func TestValidHex(t *testing.T) {
	assert.True(t, ValidHex(emptyDigest))
	assert.False(t, ValidHex(strings.ToUpper(emptyDigest)), "uppercase is rejected")
	assert.False(t, ValidHex(emptyDigest[:63]))
	assert.False(t, ValidHex(emptyDigest+"0"))
	assert.False(t, ValidHex(strings.Replace(emptyDigest, "e", "g", 1)))
	assert.False(t, ValidHex(""))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(emptyDigest, emptyDigest))
	assert.False(t, Equal(emptyDigest, strings.Replace(emptyDigest, "e3", "e4", 1)))
	assert.False(t, Equal(emptyDigest, emptyDigest[:63]))
}

func TestVerify(t *testing.T) {
	w := NewWriter()
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Nil(t, Verify("pkg-1.0.0.tar.gz", w.SumHex(), 3, w))

	sizeErr := Verify("pkg-1.0.0.tar.gz", w.SumHex(), 4, w)
	require.NotNil(t, sizeErr)
	assert.Equal(t, "size-mismatch", sizeErr.Code)

	digestErr := Verify("pkg-1.0.0.tar.gz", emptyDigest, 3, w)
	require.NotNil(t, digestErr)
	assert.Equal(t, "digest-mismatch", digestErr.Code)
	require.Len(t, digestErr.Details, 1)
	assert.Equal(t, emptyDigest, digestErr.Details[0]["expected"])
}
