package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitRespectsInFlightCap(t *testing.T) {
	p := New(2, 0)

	assert.True(t, p.Admit())
	assert.True(t, p.Admit())
	assert.False(t, p.Admit(), "third frame exceeds the cap")
	assert.Equal(t, int64(2), p.InFlight())
	assert.Equal(t, int64(1), p.Dropped())

	p.Done()
	assert.True(t, p.Admit(), "capacity freed by Done")
}

func TestInFlightNeverExceedsCap(t *testing.T) {
	p := New(2, 0)
	for i := 0; i < 100; i++ {
		p.Admit()
		assert.LessOrEqual(t, p.InFlight(), int64(2))
	}
}

func TestDoneClampsAtZero(t *testing.T) {
	p := New(2, 0)
	p.Done()
	p.Done()
	assert.Equal(t, int64(0), p.InFlight())

	require.True(t, p.Admit())
	assert.Equal(t, int64(1), p.InFlight())
}

func TestMinIntervalDropsBursts(t *testing.T) {
	p := New(10, 50*time.Millisecond)

	assert.True(t, p.Admit())
	assert.False(t, p.Admit(), "second frame inside the interval drops")
	assert.Equal(t, int64(1), p.Dropped())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, p.Admit(), "interval elapsed")
}

func TestCapDropDoesNotConsumeRateToken(t *testing.T) {
	p := New(1, 50*time.Millisecond)

	require.True(t, p.Admit())
	// Cap-bound drop: must not push the interval window forward.
	assert.False(t, p.Admit())
	p.Done()

	time.Sleep(60 * time.Millisecond)
	assert.True(t, p.Admit(), "rate token was not consumed by the cap drop")
}

func TestBackpressureScenario(t *testing.T) {
	// Scenario S2 shape: frames every 10ms against a 33ms interval and a
	// cap of 2, replies lagging 50ms behind admission. Most frames drop;
	// in-flight never exceeds 2; replies equal admissions.
	p := New(2, 33*time.Millisecond)

	type reply struct{ at time.Time }
	var pending []reply
	admitted, replies := 0, 0

	start := time.Now()
	for i := 0; i < 100; i++ {
		now := time.Now()
		// Deliver any replies that are due.
		for len(pending) > 0 && now.After(pending[0].at) {
			pending = pending[1:]
			p.Done()
			replies++
		}
		if p.Admit() {
			admitted++
			pending = append(pending, reply{at: now.Add(50 * time.Millisecond)})
		}
		assert.LessOrEqual(t, p.InFlight(), int64(2))
		time.Sleep(10 * time.Millisecond)
	}
	for range pending {
		p.Done()
		replies++
	}

	elapsed := time.Since(start)
	assert.Equal(t, int64(admitted), p.Admitted())
	assert.Equal(t, admitted, replies, "every admitted frame gets exactly one reply")
	assert.GreaterOrEqual(t, int(p.Dropped()), 60, "most of a 10ms burst must drop (elapsed %v)", elapsed)
	assert.Equal(t, 100, admitted+int(p.Dropped()))
}
