package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"ObjectCounter/detect"
	"ObjectCounter/fps"
	"ObjectCounter/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const sampleInterval = 500 * time.Millisecond

// Monitor exports capture loop and process metrics for Prometheus.
type Monitor struct {
	Registry *prometheus.Registry

	memUsage  prometheus.Gauge
	cpuUsage  prometheus.Gauge
	frames    prometheus.Counter
	inference prometheus.Histogram
	rate      prometheus.Gauge
	objects   *prometheus.GaugeVec
	GRPCTotal *prometheus.CounterVec

	proc *process.Process
	srv  *http.Server
	wg   sync.WaitGroup
}

// New registers every collector on a private registry.
func New() *Monitor {
	m := &Monitor{Registry: prometheus.NewRegistry()}
	m.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	m.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	m.frames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "Total number of frames published to the streamer",
	})
	m.inference = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_seconds",
		Help:    "Object detection time per frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	m.rate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fps",
		Help: "Average frames per second since the capture loop started",
	})
	m.objects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "objects",
		Help: "Objects of each allow-listed label in the latest frame",
	}, []string{"label"})
	m.GRPCTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	}, []string{"method"})
	m.Registry.MustRegister(m.memUsage, m.cpuUsage, m.frames, m.inference, m.rate, m.objects, m.GRPCTotal)
	return m
}

// ObserveFrame records one published frame.
func (m *Monitor) ObserveFrame(frame detect.Frame, stats fps.Stats) {
	m.frames.Inc()
	m.inference.Observe(frame.Duration.Seconds())
	m.rate.Set(stats.FPS)
	for label, n := range frame.Counts {
		m.objects.WithLabelValues(label).Set(float64(n))
	}
}

// UnaryServerInterceptor counts control RPCs per method.
func (m *Monitor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		m.GRPCTotal.WithLabelValues(info.FullMethod).Inc()
		return handler(ctx, req)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// CheckProcessInfo samples memory and CPU usage of this process.
func (m *Monitor) CheckProcessInfo() {
	if m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Start serves /metrics on port and samples process stats until ctx is done.
func (m *Monitor) Start(ctx context.Context, port int) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}
	m.proc = proc

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics listen on port %d: %w", port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.srv = &http.Server{Handler: mux}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server stopped", zap.Error(err))
		}
	}()
	go func() {
		defer m.wg.Done()
		m.sample(ctx)
	}()
	logger.Log().Info("Metrics listening", zap.String("addr", lis.Addr().String()))
	return nil
}

func (m *Monitor) sample(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server shutdown", zap.Error(err))
	}
}

// Wait blocks until the server and sampler started by Start have exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
