// Package streamer serves annotated frames to browser viewers and collects
// their exit requests.
package streamer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	iface "ObjectCounter/interface"
	"ObjectCounter/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	exitCommand     = "exit"
	mjpegBoundary   = "frame"
	shutdownTimeout = 2 * time.Second
)

// FrameMessage is pushed to websocket viewers for every frame.
type FrameMessage struct {
	Seq   uint64   `json:"seq"`
	Image string   `json:"image"`
	Text  []string `json:"text"`
}

// Server is the viewer sink of the capture loop.
type Server struct {
	quality int
	router  *gin.Engine
	http    *http.Server
	hub     *Hub

	exit   atomic.Bool
	closed atomic.Bool
	once   sync.Once

	mu    sync.RWMutex
	seq   uint64
	jpeg  []byte
	text  []string
	ready chan struct{}
}

var _ iface.Sink = (*Server)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// New builds the viewer server. jpegQuality is 1..100.
func New(jpegQuality int) *Server {
	s := &Server{
		quality: jpegQuality,
		ready:   make(chan struct{}),
	}
	s.hub = NewHub(func(c *Client, msg string) {
		if strings.TrimSpace(msg) == exitCommand {
			logger.Log().Info("Exit requested by viewer", zap.String("ID", c.ID))
			s.RequestExit()
		}
	})
	go s.hub.Run()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/", s.handleIndex)
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/text", s.handleText)
	r.GET("/api/viewers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.hub.IDs()})
	})
	r.POST("/api/exit", func(c *gin.Context) {
		logger.Log().Info("Exit requested over HTTP", zap.String("remote", c.ClientIP()))
		s.RequestExit()
		c.JSON(http.StatusOK, gin.H{"data": "exit requested"})
	})
	r.GET("/video_feed", s.handleMJPEG)
	r.GET("/ws", s.handleWS)
	s.router = r
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on port and serves in the background.
func (s *Server) Start(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("streamer listen on port %d: %w", port, err)
	}
	s.http = &http.Server{Handler: s.router}
	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Streamer server stopped", zap.Error(err))
		}
	}()
	logger.Log().Info("Streamer listening", zap.String("addr", lis.Addr().String()))
	return nil
}

// Send encodes frame as JPEG and publishes it with its text block.
func (s *Server) Send(frame gocv.Mat, text []string) error {
	if s.closed.Load() {
		return errors.New("streamer is closed")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()
	return s.Publish(data, text)
}

// Publish hands an already encoded JPEG to the MJPEG and websocket viewers.
func (s *Server) Publish(jpeg []byte, text []string) error {
	if s.closed.Load() {
		return errors.New("streamer is closed")
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.jpeg = jpeg
	s.text = append([]string(nil), text...)
	close(s.ready)
	s.ready = make(chan struct{})
	s.mu.Unlock()

	msg, err := json.Marshal(FrameMessage{
		Seq:   seq,
		Image: base64.StdEncoding.EncodeToString(jpeg),
		Text:  text,
	})
	if err != nil {
		return fmt.Errorf("marshal frame message: %w", err)
	}
	s.hub.Broadcast(msg)
	return nil
}

// ExitRequested reports whether a viewer, the control API or a signal asked to stop.
func (s *Server) ExitRequested() bool {
	return s.exit.Load()
}

// RequestExit asks the capture loop to stop after the current frame.
func (s *Server) RequestExit() {
	s.exit.Store(true)
}

// Close disconnects all viewers and stops the HTTP server.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.hub.Close()
		s.mu.Lock()
		close(s.ready)
		s.ready = make(chan struct{})
		s.mu.Unlock()
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = s.http.Shutdown(ctx)
		}
		logger.Log().Info("Streamer closed")
	})
	return err
}

func (s *Server) latest() (uint64, []byte, []string, chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.jpeg, s.text, s.ready
}

func (s *Server) handleText(c *gin.Context) {
	seq, _, text, _ := s.latest()
	if text == nil {
		text = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq, "data": text})
}

func (s *Server) handleMJPEG(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	var sent uint64
	for {
		seq, jpeg, _, ready := s.latest()
		if s.closed.Load() {
			return
		}
		if jpeg != nil && seq != sent {
			_, err := fmt.Fprintf(c.Writer, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg))
			if err == nil {
				_, err = c.Writer.Write(jpeg)
			}
			if err == nil {
				_, err = c.Writer.Write([]byte("\r\n"))
			}
			if err != nil {
				return
			}
			c.Writer.Flush()
			sent = seq
		}
		select {
		case <-ready:
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleWS(c *gin.Context) {
	if s.closed.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream closed"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	newClient(s.hub, conn).serve()
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// long-lived streams are logged by their own handlers
		if c.FullPath() == "/video_feed" || c.FullPath() == "/ws" {
			return
		}
		logger.Log().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
