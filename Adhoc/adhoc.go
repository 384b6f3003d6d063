package Adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"ObjectCounter/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

// RegisterRequest announces one running viewer to the registry.
type RegisterRequest struct {
	Id        string   `json:"id"`
	IP        string   `json:"ip"`
	Port      int      `json:"port"`
	Model     string   `json:"model"`
	Objects   []string `json:"objects"`
	TimeStamp int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Announcement is the part of RegisterRequest that stays fixed for the process.
type Announcement struct {
	IP      string
	Port    int
	Model   string
	Objects []string
}

// Heartbeat posts an Announcement to the registry on every tick.
type Heartbeat struct {
	Server   RegServerConfig
	Info     Announcement
	Interval time.Duration

	id     string
	client *resty.Client
}

func NewHeartbeat(server RegServerConfig, info Announcement) *Heartbeat {
	return &Heartbeat{
		Server:   server,
		Info:     info,
		Interval: TimeOutSeconds * time.Second,
		id:       uuid.NewString(),
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// ID is the identifier sent with every request.
func (h *Heartbeat) ID() string {
	return h.id
}

// Send posts one registration. Panics inside the request are recovered and
// reported as errors.
func (h *Heartbeat) Send(ctx context.Context) (resp RegisterResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register panic recovered: %v", r)
		}
	}()
	reqBody := RegisterRequest{
		Id:        h.id,
		IP:        h.Info.IP,
		Port:      h.Info.Port,
		Model:     h.Info.Model,
		Objects:   h.Info.Objects,
		TimeStamp: time.Now().Unix(),
	}
	r, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&resp).
		Post(h.Server.URL())
	if err != nil {
		return resp, fmt.Errorf("request error: %w", err)
	}
	if r.IsError() {
		return resp, fmt.Errorf("server returned error: %s, body: %s", r.Status(), r.String())
	}
	return resp, nil
}

// Run sends a registration now and then on every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	send := func() {
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("Registry heartbeat failed", zap.String("url", h.Server.URL()), zap.Error(err))
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			send()
		}
	}
}

// SendAliveMessage starts a heartbeat for info against RegServerCfg.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, info Announcement) *Heartbeat {
	h := NewHeartbeat(RegServerCfg, info)
	wg.Add(1)
	go h.Run(ctx, wg)
	return h
}

var RegServerCfg RegServerConfig

// GetOutboundIP returns the local address used to reach the internet. No
// packet is sent; dialing UDP only resolves the route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
