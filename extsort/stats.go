package extsort

import "sync/atomic"

// Stats is a snapshot of pipeline progress counters.
type Stats struct {
	RecordsRead     int64 // records pulled from the input file
	RunsCreated     int64 // initial runs spilled by the split stage
	MergeIterations int64 // k-way merges performed
	RecordsMerged   int64 // records passed through merge output buffers
	BytesWritten    int64 // raw record bytes handed to writers
}

// stats holds the live counters; workers update them with atomics.
type stats struct {
	recordsRead     int64
	runsCreated     int64
	mergeIterations int64
	recordsMerged   int64
	bytesWritten    int64
}

func (s *stats) addRead(n int)      { atomic.AddInt64(&s.recordsRead, int64(n)) }
func (s *stats) addRun()            { atomic.AddInt64(&s.runsCreated, 1) }
func (s *stats) addMerge()          { atomic.AddInt64(&s.mergeIterations, 1) }
func (s *stats) addMerged(n int)    { atomic.AddInt64(&s.recordsMerged, int64(n)) }
func (s *stats) addWritten(n int64) { atomic.AddInt64(&s.bytesWritten, n) }

func (s *stats) snapshot() Stats {
	return Stats{
		RecordsRead:     atomic.LoadInt64(&s.recordsRead),
		RunsCreated:     atomic.LoadInt64(&s.runsCreated),
		MergeIterations: atomic.LoadInt64(&s.mergeIterations),
		RecordsMerged:   atomic.LoadInt64(&s.recordsMerged),
		BytesWritten:    atomic.LoadInt64(&s.bytesWritten),
	}
}
