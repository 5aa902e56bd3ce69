package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
)

const defaultRecorderCapacity = 10000

// RequestRecorder buffers HTTP response times until the next sampling tick.
type RequestRecorder struct {
	mu       sync.Mutex
	samples  []Reading
	capacity int
	dropped  uint64
	now      func() time.Time
}

func NewRequestRecorder() *RequestRecorder {
	return &RequestRecorder{capacity: defaultRecorderCapacity, now: time.Now}
}

var unrecordedRoutes = map[string]struct{}{
	"/metrics":                  {},
	"/health":                   {},
	"/ready":                    {},
	"/api/notifications/stream": {},
}

func (r *RequestRecorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := r.now()
		c.Next()

		if _, skip := unrecordedRoutes[c.FullPath()]; skip {
			return
		}
		r.Record(c.Writer.Status(), r.now().Sub(start))
	}
}

// Record buffers one sample. Samples beyond capacity are dropped and counted.
func (r *RequestRecorder) Record(status int, elapsed time.Duration) {
	reading := Reading{
		Name:   domain.MetricHTTPResponseTimeMs,
		Value:  float64(elapsed) / float64(time.Millisecond),
		Labels: map[string]string{"status": strconv.Itoa(status)},
		Source: domain.SourceHTTP,
		At:     r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) >= r.capacity {
		r.dropped++
		return
	}
	r.samples = append(r.samples, reading)
}

// Drain hands over every buffered sample and the number dropped since the last drain.
func (r *RequestRecorder) Drain() ([]Reading, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.samples
	dropped := r.dropped
	r.samples = nil
	r.dropped = 0
	return out, dropped
}
