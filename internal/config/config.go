package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agents     []Agent    `yaml:"agents"`
	Runs       int        `yaml:"runs"`
	Sampler    Sampler    `yaml:"sampler"`
	Scenarios  Scenarios  `yaml:"scenarios"`
	Detector   Detector   `yaml:"detector"`
	Evaluation Evaluation `yaml:"evaluation"`
	Secrets    Secrets    `yaml:"secrets"`
	Results    Results    `yaml:"results"`
}

// Agent describes one member of the external agent stack. Exactly one of
// Command, Image, or URL selects how it is reached: spawned as a local
// process, started as a container, or treated as externally managed.
type Agent struct {
	Name    string            `yaml:"name"`
	Role    string            `yaml:"role"` // merchant, credentials, payment
	Command string            `yaml:"command"`
	Image   string            `yaml:"image"`
	Port    int               `yaml:"port"`
	Path    string            `yaml:"path"` // endpoint path prefix for spawned agents
	URL     string            `yaml:"url"`
	Env     map[string]string `yaml:"env"`
	GPU     bool              `yaml:"gpu"` // container agents: request GPU devices
}

type Sampler struct {
	IntervalMS  int `yaml:"interval_ms"`
	DeviceIndex int `yaml:"device_index"`
}

func (s Sampler) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

type Scenarios struct {
	TimeoutS        int `yaml:"timeout_s"`
	NormalTimeoutS  int `yaml:"normal_timeout_s"`
	BrowseDelayMS   int `yaml:"browse_delay_ms"`
	LoopPauseMS     int `yaml:"loop_pause_ms"`
	MaxLoopAttempts int `yaml:"max_loop_attempts"`
	StormRetries    int `yaml:"storm_retries"`
	StormPauseMS    int `yaml:"storm_pause_ms"`
}

type Detector struct {
	SpikeUtilPct       float64 `yaml:"spike_util_pct"`
	MaxNormalDurationS float64 `yaml:"max_normal_duration_s"`
	CoVSplit           float64 `yaml:"cov_split"`
	MinStormSpikes     int     `yaml:"min_storm_spikes"`
}

type Evaluation struct {
	MinRuns        int     `yaml:"min_runs"`
	AccuracyTarget float64 `yaml:"accuracy_target"`
	LatencyTargetS float64 `yaml:"latency_target_s"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir    string `yaml:"dir"`
	LogDir string `yaml:"log_dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

var validRoles = map[string]bool{"merchant": true, "credentials": true, "payment": true}

func validate(cfg *Config) error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}
	for i, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if !validRoles[a.Role] {
			return fmt.Errorf("agent %q: role must be merchant, credentials, or payment", a.Name)
		}
		n := 0
		for _, set := range []bool{a.Command != "", a.Image != "", a.URL != ""} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("agent %q: exactly one of command, image, or url is required", a.Name)
		}
		if a.URL == "" && a.Port < 0 {
			return fmt.Errorf("agent %q: port must be non-negative", a.Name)
		}
	}

	if cfg.Runs < 1 {
		cfg.Runs = 3
	}
	if cfg.Sampler.IntervalMS <= 0 {
		cfg.Sampler.IntervalMS = 100
	}
	if cfg.Scenarios.TimeoutS <= 0 {
		cfg.Scenarios.TimeoutS = 30
	}
	if cfg.Scenarios.NormalTimeoutS <= 0 {
		cfg.Scenarios.NormalTimeoutS = 60
	}
	if cfg.Scenarios.BrowseDelayMS <= 0 {
		cfg.Scenarios.BrowseDelayMS = 500
	}
	if cfg.Scenarios.LoopPauseMS <= 0 {
		cfg.Scenarios.LoopPauseMS = 300
	}
	if cfg.Scenarios.MaxLoopAttempts <= 0 {
		cfg.Scenarios.MaxLoopAttempts = 20
	}
	if cfg.Scenarios.StormRetries <= 0 {
		cfg.Scenarios.StormRetries = 15
	}
	if cfg.Scenarios.StormPauseMS <= 0 {
		cfg.Scenarios.StormPauseMS = 200
	}
	if cfg.Detector.SpikeUtilPct <= 0 {
		cfg.Detector.SpikeUtilPct = 80
	}
	if cfg.Detector.MaxNormalDurationS <= 0 {
		cfg.Detector.MaxNormalDurationS = 10
	}
	if cfg.Detector.CoVSplit <= 0 {
		cfg.Detector.CoVSplit = 0.5
	}
	if cfg.Detector.MinStormSpikes <= 0 {
		cfg.Detector.MinStormSpikes = 5
	}
	if cfg.Evaluation.MinRuns <= 0 {
		cfg.Evaluation.MinRuns = 3
	}
	if cfg.Evaluation.AccuracyTarget <= 0 {
		cfg.Evaluation.AccuracyTarget = 0.80
	}
	if cfg.Evaluation.LatencyTargetS <= 0 {
		cfg.Evaluation.LatencyTargetS = 10
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Results.LogDir == "" {
		cfg.Results.LogDir = "logs"
	}
	return nil
}
