package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundQueueFIFO(t *testing.T) {
	q, err := NewInboundQueue(8)
	require.NoError(t, err)

	for sn := Seqnum(0); sn < 4; sn++ {
		require.NoError(t, q.WritePacket(newTestPacket(sn)))
	}

	for sn := Seqnum(0); sn < 4; sn++ {
		p, err := q.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, sn, p.Seqnum)
		p.Release()
	}

	_, err = q.ReadPacket()
	assert.ErrorIs(t, err, ErrNoPacket)
}

func TestInboundQueueNeverBlocks(t *testing.T) {
	q, err := NewInboundQueue(2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for sn := Seqnum(0); sn < 10; sn++ {
			_ = q.WritePacket(newTestPacket(sn))
		}
	}()
	<-done

	assert.Equal(t, uint64(8), q.Dropped())
	q.Close()

	_, err = q.ReadPacket()
	assert.ErrorIs(t, err, ErrNoPacket)
}

func TestNewInboundQueueValidation(t *testing.T) {
	_, err := NewInboundQueue(0)
	assert.Error(t, err)
}
