package monitor

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"ObjectCounter/detect"
	"ObjectCounter/fps"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestObserveFrame(t *testing.T) {
	m := New()
	frame := detect.Frame{
		Counts:   detect.Counts{"person": 2, "chair": 0},
		Duration: 40 * time.Millisecond,
	}
	m.ObserveFrame(frame, fps.Stats{Frames: 1, Elapsed: time.Second, FPS: 12.5})
	m.ObserveFrame(frame, fps.Stats{Frames: 2, Elapsed: time.Second, FPS: 15})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.rate))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.objects.WithLabelValues("person")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.objects.WithLabelValues("chair")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.inference))
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := New()
	intercept := m.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/objectcounter.Control/Stats"}
	resp, err := intercept(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GRPCTotal.WithLabelValues("/objectcounter.Control/Stats")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFrame(detect.Frame{Counts: detect.Counts{"sofa": 1}}, fps.Stats{})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "frames_total 1")
	assert.Contains(t, body, `objects{label="sofa"} 1`)
}

func TestStart(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, port))

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return strings.Contains(body, "memory_usage_Megabytes")
	}, 3*time.Second, 100*time.Millisecond)
	assert.Contains(t, body, "cpu_usage_percent")

	cancel()
	m.Wait()
}
