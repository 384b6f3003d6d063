package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VOCLabels is the label set of the bundled MobileNet-SSD model.
var VOCLabels = []string{
	"background", "aeroplane", "bicycle", "bird", "boat",
	"bottle", "bus", "car", "cat", "chair", "cow", "diningtable",
	"dog", "horse", "motorbike", "person", "pottedplant", "sheep",
	"sofa", "train", "tvmonitor",
}

type Camera struct {
	Index  int           `yaml:"index"`
	Width  int           `yaml:"width"`
	Height int           `yaml:"height"`
	Warmup time.Duration `yaml:"warmup"`
}

type Model struct {
	ID          string   `yaml:"id"`
	Weights     string   `yaml:"weights"`
	Config      string   `yaml:"config"`
	Labels      []string `yaml:"labels"`
	LabelsFile  string   `yaml:"labelsFile"`
	Engine      string   `yaml:"engine"`
	Accelerator string   `yaml:"accelerator"`
	InputSize   int      `yaml:"inputSize"`
	Scale       float64  `yaml:"scale"`
	Mean        float64  `yaml:"mean"`
}

type Detect struct {
	Confidence float32  `yaml:"confidence"`
	Objects    []string `yaml:"objects"`
}

type Streamer struct {
	Port        int `yaml:"port"`
	JPEGQuality int `yaml:"jpegQuality"`
}

type Monitor struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type Control struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type Registry struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type Log struct {
	Mode string `yaml:"mode"`
}

// Config is the content of config.yaml.
type Config struct {
	Camera   Camera   `yaml:"camera"`
	Model    Model    `yaml:"model"`
	Detect   Detect   `yaml:"detect"`
	Streamer Streamer `yaml:"streamer"`
	Monitor  Monitor  `yaml:"monitor"`
	Control  Control  `yaml:"control"`
	Registry Registry `yaml:"registry"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Camera: Camera{
			Index:  0,
			Warmup: 2 * time.Second,
		},
		Model: Model{
			ID:          "alwaysai/mobilenet_ssd",
			Weights:     "models/MobileNetSSD_deploy.caffemodel",
			Config:      "models/MobileNetSSD_deploy.prototxt",
			Labels:      append([]string(nil), VOCLabels...),
			Engine:      "DNN",
			Accelerator: "CPU",
			InputSize:   300,
			Scale:       0.007843,
			Mean:        127.5,
		},
		Detect: Detect{
			Confidence: 0.5,
			Objects:    []string{"person", "chair", "sofa", "pottedplant"},
		},
		Streamer: Streamer{Port: 5000, JPEGQuality: 80},
		Monitor:  Monitor{Enabled: true, Port: 9100},
		Control:  Control{Enabled: true, Port: 50051},
		Registry: Registry{Enabled: false, Host: "127.0.0.1", Port: 8080},
		Log:      Log{Mode: "development"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, bool, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Parse decodes YAML into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Detect.Confidence < 0 || c.Detect.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", c.Detect.Confidence)
	}
	if len(c.Detect.Objects) == 0 {
		return errors.New("detect.objects cannot be empty")
	}
	seen := make(map[string]bool, len(c.Detect.Objects))
	for _, o := range c.Detect.Objects {
		if o == "" {
			return errors.New("detect.objects contains an empty label")
		}
		if seen[o] {
			return fmt.Errorf("detect.objects lists %q twice", o)
		}
		seen[o] = true
	}
	if c.Camera.Index < 0 {
		return fmt.Errorf("camera.index must not be negative, got %d", c.Camera.Index)
	}
	if c.Camera.Warmup < 0 {
		return fmt.Errorf("camera.warmup must not be negative, got %s", c.Camera.Warmup)
	}
	if c.Model.ID == "" {
		return errors.New("model.id cannot be empty")
	}
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("model.inputSize must be positive, got %d", c.Model.InputSize)
	}
	if q := c.Streamer.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("streamer.jpegQuality must be between 1 and 100, got %d", q)
	}
	ports := map[string]int{"streamer.port": c.Streamer.Port}
	if c.Monitor.Enabled {
		ports["monitor.port"] = c.Monitor.Port
	}
	if c.Control.Enabled {
		ports["control.port"] = c.Control.Port
	}
	if c.Registry.Enabled {
		ports["registry.port"] = c.Registry.Port
	}
	for name, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	return nil
}
