package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentileIndexClampsToLast(t *testing.T) {
	assert.Equal(t, 0, percentileIndex(1, 95))
	assert.Equal(t, 5, percentileIndex(10, 50))
	assert.Equal(t, 9, percentileIndex(10, 100))
}

func TestTakeAppointmentDrainsPool(t *testing.T) {
	dp := &DataPool{}
	dp.AddAppointment(1)
	dp.AddAppointment(2)
	rng := rand.New(rand.NewSource(1))

	seen := map[int64]bool{}
	for range 2 {
		id, ok := dp.TakeAppointment(rng)
		assert.True(t, ok)
		seen[id] = true
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true}, seen)

	_, ok := dp.TakeAppointment(rng)
	assert.False(t, ok)
}

func TestOperationMetricsStats(t *testing.T) {
	var om OperationMetrics
	om.Record(10*time.Millisecond, true, false)
	om.Record(30*time.Millisecond, false, true)
	om.Record(20*time.Millisecond, false, false)

	avg, lo, hi, p50, _ := om.Stats()
	assert.Equal(t, 20*time.Millisecond, avg)
	assert.Equal(t, 10*time.Millisecond, lo)
	assert.Equal(t, 30*time.Millisecond, hi)
	assert.Equal(t, 20*time.Millisecond, p50)
	assert.Equal(t, int64(1), om.Success)
	assert.Equal(t, int64(1), om.Conflict)
	assert.Equal(t, int64(1), om.Error)
}
