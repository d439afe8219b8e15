package receiver

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"sync"
)

// Origin identifies who sent a set of records.
type Origin struct {
	ServiceName string `json:"service_name"`
	PodName     string `json:"pod_name"`
	Namespace   string `json:"namespace"`
	CollectorID string `json:"collector_id"`
	BatchID     string `json:"batch_id"`
}

type Recorder interface {
	Record(origin Origin, records []model.LogRecord)
	RecordSpans(origin Origin, spans []model.Span)
}

// MemoryRecorderImpl keeps the most recent records and spans, each up to a
// fixed limit.
type MemoryRecorderImpl struct {
	limit     int
	records   []model.LogRecord
	spans     []model.Span
	origins   map[string]Origin
	total     uint64
	spanTotal uint64
	batches   uint64
	mu        sync.Mutex
}

func NewMemoryRecorderImpl(limit int) *MemoryRecorderImpl {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryRecorderImpl{
		limit:   limit,
		origins: make(map[string]Origin),
	}
}

func (mr *MemoryRecorderImpl) Record(origin Origin, records []model.LogRecord) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.batches++
	mr.total += uint64(len(records))
	mr.origins[origin.ServiceName+"/"+origin.PodName] = origin
	mr.records = append(mr.records, records...)
	if over := len(mr.records) - mr.limit; over > 0 {
		mr.records = append(mr.records[:0], mr.records[over:]...)
	}
}

func (mr *MemoryRecorderImpl) RecordSpans(origin Origin, spans []model.Span) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.spanTotal += uint64(len(spans))
	mr.origins[origin.ServiceName+"/"+origin.PodName] = origin
	mr.spans = append(mr.spans, spans...)
	if over := len(mr.spans) - mr.limit; over > 0 {
		mr.spans = append(mr.spans[:0], mr.spans[over:]...)
	}
}

func (mr *MemoryRecorderImpl) Spans() []model.Span {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	out := make([]model.Span, len(mr.spans))
	copy(out, mr.spans)
	return out
}

func (mr *MemoryRecorderImpl) Records() []model.LogRecord {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	out := make([]model.LogRecord, len(mr.records))
	copy(out, mr.records)
	return out
}

type Summary struct {
	Batches  uint64   `json:"batches"`
	Records  uint64   `json:"records"`
	Spans    uint64   `json:"spans"`
	Retained int      `json:"retained"`
	Origins  []Origin `json:"origins"`
}

func (mr *MemoryRecorderImpl) Summary() Summary {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	origins := make([]Origin, 0, len(mr.origins))
	for _, origin := range mr.origins {
		origins = append(origins, origin)
	}
	return Summary{
		Batches:  mr.batches,
		Records:  mr.total,
		Spans:    mr.spanTotal,
		Retained: len(mr.records),
		Origins:  origins,
	}
}
