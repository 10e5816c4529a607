package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// AppConfig is the process-wide configuration, populated by LoadConfigFromFile
// before any service is constructed.
var AppConfig Config

type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	// ClipDir receives payloads that could not be uploaded. TempDir holds
	// scratch files and is safe to wipe between runs.
	ClipDir string `yaml:"clipDir"`
	TempDir string `yaml:"tempDir"`

	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Upload  UploadConfig  `yaml:"upload"`
}

type BrowserConfig struct {
	ExecPath string `yaml:"execPath"`
	Headless bool   `yaml:"headless"`

	// AllowTabCreation permits host discovery to open a new tab when no
	// existing tab shows the requested target.
	AllowTabCreation bool `yaml:"allowTabCreation"`

	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
}

// CaptureConfig carries the timing constants of the capture pipeline. The
// watchdog budget for a segment is span/speed*safetyFactor + fixedBuffer.
type CaptureConfig struct {
	SpeedMultiplier float64       `yaml:"speedMultiplier"`
	SafetyFactor    float64       `yaml:"safetyFactor"`
	FixedBuffer     time.Duration `yaml:"fixedBuffer"`
	OuterMargin     time.Duration `yaml:"outerMargin"`
	MaxSegment      time.Duration `yaml:"maxSegment"`
	DefaultSegment  time.Duration `yaml:"defaultSegment"`
	ReadyBudget     time.Duration `yaml:"readyBudget"`
	SeekTimeout     time.Duration `yaml:"seekTimeout"`
	Timeslice       time.Duration `yaml:"timeslice"`
	MinPayloadBytes int64         `yaml:"minPayloadBytes"`
	InjectAttempts  int           `yaml:"injectAttempts"`
}

type UploadConfig struct {
	Endpoint     string `yaml:"endpoint"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	TokenURL     string `yaml:"tokenUrl"`

	Timeout time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		ListenAddr: ":50998",
		ClipDir:    "./clips",
		TempDir:    "./tmp",
		Browser: BrowserConfig{
			Headless:         true,
			AllowTabCreation: true,
			AcquireTimeout:   18 * time.Second,
			PollInterval:     500 * time.Millisecond,
		},
		Capture: CaptureConfig{
			SpeedMultiplier: 4,
			SafetyFactor:    1.5,
			FixedBuffer:     10 * time.Second,
			OuterMargin:     15 * time.Second,
			MaxSegment:      5 * time.Minute,
			DefaultSegment:  time.Minute,
			ReadyBudget:     15 * time.Second,
			SeekTimeout:     3 * time.Second,
			Timeslice:       500 * time.Millisecond,
			MinPayloadBytes: 32 * 1024,
			InjectAttempts:  3,
		},
		Upload: UploadConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// LoadConfigFromFile reads the yaml config at path, falling back to
// ./config.yaml and then to defaults when no file exists. The loaded config is
// also stored in AppConfig.
func LoadConfigFromFile(path string) (Config, error) {
	if path == "" {
		path = "./config.yaml"
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			AppConfig = cfg
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyFloors()
	AppConfig = cfg
	return cfg, nil
}

// applyFloors keeps a hand-edited config from zeroing out constants the
// pipeline divides by or loops on.
func (c *Config) applyFloors() {
	d := Default()
	if c.Capture.SpeedMultiplier <= 0 {
		c.Capture.SpeedMultiplier = d.Capture.SpeedMultiplier
	}
	if c.Capture.SafetyFactor <= 0 {
		c.Capture.SafetyFactor = d.Capture.SafetyFactor
	}
	if c.Capture.InjectAttempts <= 0 {
		c.Capture.InjectAttempts = d.Capture.InjectAttempts
	}
	if c.Browser.PollInterval <= 0 {
		c.Browser.PollInterval = d.Browser.PollInterval
	}
	if c.Capture.Timeslice <= 0 {
		c.Capture.Timeslice = d.Capture.Timeslice
	}
}
