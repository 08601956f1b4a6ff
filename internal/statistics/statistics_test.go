package statistics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSuccess(t *testing.T) {
	s := NewStatistics()
	s.IncrementRequested()
	s.IncrementRequested()
	s.IncrementRequested()
	s.RecordSuccess(ModeLocal, 1000, 250)
	s.RecordSuccess(ModeServer, 0, 400)
	s.IncrementSuperseded()

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Requested)
	assert.Equal(t, int64(2), snap.Succeeded)
	assert.Equal(t, int64(1), snap.LocalCompressions)
	assert.Equal(t, int64(1), snap.ServerCompressions)
	assert.Equal(t, int64(1), snap.Superseded)
	assert.Equal(t, int64(1000), snap.BytesIn)
	assert.Equal(t, int64(250), snap.BytesOut)
	assert.InDelta(t, 75.0, snap.PercentageSaved, 1e-9)

	summary := s.GetSummary()
	assert.Contains(t, summary, "Succeeded: 2")
	assert.Contains(t, summary, "Saved: 75.0%")
}

func TestRecordFailureKeepsBoundedHistory(t *testing.T) {
	s := NewStatistics()
	assert.Equal(t, "No errors occurred", s.GetErrorSummary())

	for i := 0; i < maxErrors+5; i++ {
		s.RecordFailure(fmt.Sprintf("img-%d.png", i), "compress_local", "boom")
	}

	errs := s.Errors()
	assert.Len(t, errs, maxErrors)
	assert.Equal(t, "img-5.png", errs[0].Source)
	assert.Equal(t, int64(maxErrors+5), s.Snapshot().Failed)
	assert.Len(t, s.Snapshot().RecentErrors, 10)
	assert.Contains(t, s.GetErrorSummary(), "more errors")
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementRequested()
			s.RecordSuccess(ModeServer, 10, 5)
			s.RecordFailure("x", "compress_server", "err")
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap.Requested)
	assert.Equal(t, int64(50), snap.Succeeded)
	assert.Equal(t, int64(50), snap.Failed)
	assert.Equal(t, int64(500), snap.BytesIn)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2<<20))
}
