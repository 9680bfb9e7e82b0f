package security

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandwidthLimiter_NilIsUnlimited(t *testing.T) {
	var bl *BandwidthLimiter

	r := bl.WrapReader(context.Background(), bytes.NewReader([]byte("hello")))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestNewBandwidthLimiter_NonPositiveIsNil(t *testing.T) {
	assert.Nil(t, NewBandwidthLimiter(0))
	assert.Nil(t, NewBandwidthLimiter(-1))
}

func TestBandwidthLimiter_WrapsReaderAndWriter(t *testing.T) {
	bl := NewBandwidthLimiter(1 << 30) // generous, just exercising the wrap

	r := bl.WrapReader(context.Background(), bytes.NewReader([]byte("payload")))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	var buf bytes.Buffer
	w := bl.WrapWriter(context.Background(), &buf)
	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", buf.String())
}
