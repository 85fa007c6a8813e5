package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/metrics"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func bar(tsMs int64, close float64) domain.Bar {
	return domain.Bar{OpenTime: time.UnixMilli(tsMs), Close: close}
}

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	bc := NewBroadcaster(nil)
	ch1, _ := bc.Subscribe(4)
	ch2, _ := bc.Subscribe(4)

	bc.Publish(bar(1, 100))

	require.Len(t, ch1, 1)
	require.Len(t, ch2, 1)
	assert.Equal(t, 100.0, (<-ch1).Close)
	assert.Equal(t, 100.0, (<-ch2).Close)
}

func TestBroadcaster_DropsOldestOnFullBuffer(t *testing.T) {
	bc := NewBroadcaster(nil)
	ch, _ := bc.Subscribe(2)

	bc.Publish(bar(1, 1))
	bc.Publish(bar(2, 2))
	bc.Publish(bar(3, 3)) // buffer full at 2, oldest (ts=1) must be dropped

	require.Len(t, ch, 2)
	first := <-ch
	second := <-ch
	assert.Equal(t, 2.0, first.Close)
	assert.Equal(t, 3.0, second.Close)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	bc := NewBroadcaster(nil)
	ch, unsubscribe := bc.Subscribe(1)
	assert.Equal(t, 1, bc.SubscriberCount())

	unsubscribe()
	assert.Equal(t, 0, bc.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "unsubscribing must close the channel")
}

func TestBroadcaster_RecordsDropMetricOnOverflow(t *testing.T) {
	reg := metrics.NewRegistry()
	bc := NewBroadcaster(&reg.MarketDataDropped)
	ch, _ := bc.Subscribe(1)

	bc.Publish(bar(1, 1))
	bc.Publish(bar(2, 2)) // overflows the 1-slot buffer, dropping ts=1

	assert.Equal(t, int64(1), reg.MarketDataDropped.Value())
	require.Len(t, ch, 1)
	assert.Equal(t, 2.0, (<-ch).Close)
}

func TestStream_OnBarDedupsByTsMs(t *testing.T) {
	s := NewStream("mock", nil, nopLogger{}, "BTCUSDT", "1m", 3, DefaultReconnectConfig(), nil)
	ch, _ := s.Subscribe(4)

	s.onBar(bar(1000, 100))
	s.onBar(bar(1000, 101)) // duplicate ts_ms, must not be re-broadcast
	s.onBar(bar(2000, 102))

	require.Len(t, ch, 2)
	first := <-ch
	second := <-ch
	assert.Equal(t, 100.0, first.Close)
	assert.Equal(t, 102.0, second.Close)
}

func TestStream_IsStaleAfterTimeout(t *testing.T) {
	s := NewStream("mock", nil, nopLogger{}, "BTCUSDT", "1m", 1, DefaultReconnectConfig(), nil)
	assert.False(t, s.isStale(), "a stream that has never received a bar is not yet stale")

	s.onBar(bar(1, 1))
	assert.False(t, s.isStale())

	s.mu.Lock()
	s.lastBar = time.Now().Add(-2 * s.staleTimeout)
	s.mu.Unlock()
	assert.True(t, s.isStale())
}

func TestStream_BackoffGrowsAndCaps(t *testing.T) {
	s := NewStream("mock", nil, nopLogger{}, "BTCUSDT", "1m", 3, ReconnectConfig{BaseDelay: time.Second, MaxDelay: 4 * time.Second, JitterFrac: 0}, nil)

	assert.Equal(t, time.Second, s.backoff(0))
	assert.Equal(t, 2*time.Second, s.backoff(1))
	assert.Equal(t, 4*time.Second, s.backoff(2))
	assert.Equal(t, 4*time.Second, s.backoff(5), "backoff must cap at MaxDelay")
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Minute, timeframeDuration("1m"))
	assert.Equal(t, time.Hour, timeframeDuration("1h"))
	assert.Equal(t, 4*time.Hour, timeframeDuration("4h"))
	assert.Equal(t, 24*time.Hour, timeframeDuration("1d"))
	assert.Equal(t, time.Minute, timeframeDuration("?"))
}
