// Package metrics counts API requests and serves them in the Prometheus text
// exposition format.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/mongowebapi/mongo-web-api/pkg/logging"
)

const (
	requestsTotal   = "http_requests_total"
	requestDuration = "http_request_duration_seconds"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *statusRecorder) WriteHeader(statusCode int) {
	rr.statusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

// series identifies one counter.
type series struct {
	method string
	route  string
	status int
}

// observation accumulates requests for a series.
type observation struct {
	count   uint64
	seconds float64
}

// Recorder tracks request counts and latencies per route.
type Recorder struct {
	log    logging.Logger
	m      sync.Mutex
	series map[series]*observation
}

func NewRecorder(log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Discard()
	}
	return &Recorder{
		log:    log,
		series: make(map[series]*observation),
	}
}

// Instrument wraps next so that its requests are recorded under route.
func (r *Recorder) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, req)
		r.Observe(req.Method, route, rr.statusCode, time.Since(start))
	})
}

// Observe records a single request.
func (r *Recorder) Observe(method, route string, status int, elapsed time.Duration) {
	r.m.Lock()
	defer r.m.Unlock()
	key := series{method: method, route: route, status: status}
	obs, ok := r.series[key]
	if !ok {
		obs = &observation{}
		r.series[key] = obs
	}
	obs.count++
	obs.seconds += elapsed.Seconds()
}

// Count returns the number of requests recorded for a series.
func (r *Recorder) Count(method, route string, status int) uint64 {
	r.m.Lock()
	defer r.m.Unlock()
	if obs, ok := r.series[series{method: method, route: route, status: status}]; ok {
		return obs.count
	}
	return 0
}

// Families snapshots the recorded series as metric families.
func (r *Recorder) Families() []*dto.MetricFamily {
	r.m.Lock()
	keys := make([]series, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	snapshot := make(map[series]observation, len(keys))
	for _, k := range keys {
		snapshot[k] = *r.series[k]
	}
	r.m.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})

	counter := &dto.MetricFamily{
		Name: proto.String(requestsTotal),
		Help: proto.String("Number of HTTP requests served, by route and status."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	summary := &dto.MetricFamily{
		Name: proto.String(requestDuration),
		Help: proto.String("Time spent serving HTTP requests, by route and status."),
		Type: dto.MetricType_SUMMARY.Enum(),
	}
	for _, k := range keys {
		obs := snapshot[k]
		counter.Metric = append(counter.Metric, &dto.Metric{
			Label:   labels(k),
			Counter: &dto.Counter{Value: proto.Float64(float64(obs.count))},
		})
		summary.Metric = append(summary.Metric, &dto.Metric{
			Label: labels(k),
			Summary: &dto.Summary{
				SampleCount: proto.Uint64(obs.count),
				SampleSum:   proto.Float64(obs.seconds),
			},
		})
	}
	return []*dto.MetricFamily{counter, summary}
}

func labels(k series) []*dto.LabelPair {
	return []*dto.LabelPair{
		{Name: proto.String("method"), Value: proto.String(k.method)},
		{Name: proto.String("route"), Value: proto.String(k.route)},
		{Name: proto.String("status"), Value: proto.String(strconv.Itoa(k.status))},
	}
}

// ServeHTTP writes the recorded metrics using the Prometheus text encoder.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)

	encoder := expfmt.NewEncoder(w, format)
	for _, family := range r.Families() {
		if len(family.Metric) == 0 {
			continue
		}
		if err := encoder.Encode(family); err != nil {
			r.log.Errorf("Failed to encode metric family %s: %v", family.GetName(), err)
		}
	}
}
