package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService 管道指标服务
type MetricsService struct {
	materialsIndexed *prometheus.CounterVec
	chunksEmbedded   prometheus.Counter
	generationsTotal *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	indexQueueDepth  prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *MetricsService
)

// NewMetricsService 创建指标服务。指标用promauto注册在默认registry，
// 进程内只注册一次。
func NewMetricsService() *MetricsService {
	metricsOnce.Do(func() {
		metricsInstance = &MetricsService{
			materialsIndexed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "study_materials_indexed_total",
					Help: "Total number of materials processed by the indexing pipeline",
				},
				[]string{"status"}, // status: added, failed
			),
			chunksEmbedded: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "study_chunks_embedded_total",
					Help: "Total number of text chunks embedded and stored",
				},
			),
			generationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "study_generations_total",
					Help: "Total number of generation requests",
				},
				[]string{"kind", "mode"}, // kind: note, quiz, chat; mode: live, fallback
			),
			searchDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "study_search_duration_seconds",
					Help:    "Duration of vector similarity searches",
					Buckets: prometheus.DefBuckets,
				},
			),
			indexQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "study_index_queue_depth",
					Help: "Number of indexing jobs waiting in the queue",
				},
			),
		}
	})
	return metricsInstance
}

// RecordIndexed 记录一次索引运行的资料计数
func (ms *MetricsService) RecordIndexed(added, failed int) {
	ms.materialsIndexed.WithLabelValues("added").Add(float64(added))
	ms.materialsIndexed.WithLabelValues("failed").Add(float64(failed))
}

// RecordChunks 记录入库的分块数
func (ms *MetricsService) RecordChunks(count int) {
	ms.chunksEmbedded.Add(float64(count))
}

// RecordGeneration 记录一次生成请求
func (ms *MetricsService) RecordGeneration(kind string, fallback bool) {
	mode := "live"
	if fallback {
		mode = "fallback"
	}
	ms.generationsTotal.WithLabelValues(kind, mode).Inc()
}

// ObserveSearch 记录一次检索耗时
func (ms *MetricsService) ObserveSearch(d time.Duration) {
	ms.searchDuration.Observe(d.Seconds())
}

// SetQueueDepth 记录索引队列深度
func (ms *MetricsService) SetQueueDepth(depth int) {
	ms.indexQueueDepth.Set(float64(depth))
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}
