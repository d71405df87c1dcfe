package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	quotaChecksTotal    atomic.Uint64
	quotaDenialsTotal   atomic.Uint64
	quotaCommitsTotal   atomic.Uint64
	quotaConflictsTotal atomic.Uint64
	quotaRolloversTotal atomic.Uint64

	quotaCommitDuration = newHistogram([]float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 3000})
)

// IncQuotaCheck increments the admission checks counter.
func IncQuotaCheck() {
	quotaChecksTotal.Add(1)
}

// IncQuotaDenied increments the denied admissions counter.
func IncQuotaDenied() {
	quotaDenialsTotal.Add(1)
}

// IncQuotaCommit increments the committed increments counter.
func IncQuotaCommit() {
	quotaCommitsTotal.Add(1)
}

// IncQuotaConflict increments the version-conflict counter.
func IncQuotaConflict() {
	quotaConflictsTotal.Add(1)
}

// IncQuotaRollover increments the period-rollover counter.
func IncQuotaRollover() {
	quotaRolloversTotal.Add(1)
}

// ObserveQuotaCommitMs records one ledger commit round trip in milliseconds.
func ObserveQuotaCommitMs(value float64) {
	if value < 0 {
		value = 0
	}
	quotaCommitDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "quota_checks_total", "Total quota admission checks", quotaChecksTotal.Load())
	writeCounter(&buf, "quota_denials_total", "Total denied quota admissions", quotaDenialsTotal.Load())
	writeCounter(&buf, "quota_commits_total", "Total committed usage increments", quotaCommitsTotal.Load())
	writeCounter(&buf, "quota_conflicts_total", "Total optimistic-concurrency conflicts", quotaConflictsTotal.Load())
	writeCounter(&buf, "quota_rollovers_total", "Total period rollovers", quotaRolloversTotal.Load())
	writeHistogram(&buf, "quota_commit_duration_ms", "Ledger commit round trip in milliseconds", quotaCommitDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
