package goble

import (
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemirror/internal/bridge"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// writeHarness wires a Central with a recording write function in place of a
// live client, so the write path can be exercised without a radio.
type writeHarness struct {
	mu      sync.Mutex
	order   []byte
	results []bridge.TargetWriteResult
	central *Central
}

func newWriteHarness(handle uint16) *writeHarness {
	h := &writeHarness{}
	h.central = NewCentral(nil, func(ev bridge.Event) {
		if r, ok := ev.(bridge.TargetWriteResult); ok {
			h.mu.Lock()
			h.results = append(h.results, r)
			h.mu.Unlock()
		}
	}, quietLogger())

	h.central.mu.Lock()
	h.central.chars[handle] = &ble.Characteristic{UUID: ble.UUID16(0xfff1), ValueHandle: handle}
	h.central.writeFn = func(_ *ble.Characteristic, payload []byte, _ bool) error {
		h.mu.Lock()
		h.order = append(h.order, payload[0])
		h.mu.Unlock()
		return nil
	}
	h.central.mu.Unlock()
	return h
}

func (h *writeHarness) resultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func TestCentralWritesReachTargetInSubmissionOrder(t *testing.T) {
	const handle = uint16(0x0028)
	h := newWriteHarness(handle)

	const n = 16
	for i := byte(0); i < n; i++ {
		h.central.Write(handle, []byte{i}, true, uint64(i)+1)
	}

	require.Eventually(t, func() bool {
		return h.resultCount() == n
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := byte(0); i < n; i++ {
		assert.Equal(t, i, h.order[i], "write %d reached the target out of order", i)
		assert.Equal(t, uint64(i)+1, h.results[i].Seq, "result %d reported out of order", i)
		assert.NoError(t, h.results[i].Err)
	}
}

func TestCentralWriteWithoutLinkFailsFast(t *testing.T) {
	const handle = uint16(0x0028)
	h := newWriteHarness(handle)

	h.central.mu.Lock()
	h.central.writeFn = nil
	h.central.mu.Unlock()

	h.central.Write(handle, []byte{0x01}, true, 9)

	require.Eventually(t, func() bool {
		return h.resultCount() == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, uint64(9), h.results[0].Seq)
	assert.ErrorIs(t, h.results[0].Err, errLinkLost)
}

func TestCentralWriteToUnknownHandleFailsFast(t *testing.T) {
	h := newWriteHarness(0x0028)

	h.central.Write(0x7777, []byte{0x01}, true, 9)

	require.Eventually(t, func() bool {
		return h.resultCount() == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.ErrorIs(t, h.results[0].Err, errLinkLost)
	assert.Empty(t, h.order, "nothing reaches the radio for an unmirrored handle")
}
