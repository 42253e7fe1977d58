package cmd

import (
	"testing"
	"time"

	"github.com/probelab/agentprobe/internal/config"
	"github.com/probelab/agentprobe/internal/scenario"
)

func TestSelectKinds(t *testing.T) {
	all, err := selectKinds("all")
	if err != nil {
		t.Fatalf("selectKinds(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d kinds, want 3", len(all))
	}

	one, err := selectKinds("retry_storm")
	if err != nil {
		t.Fatalf("selectKinds(retry_storm): %v", err)
	}
	if len(one) != 1 || one[0] != scenario.RetryStorm {
		t.Errorf("got %v, want [retry_storm]", one)
	}

	if _, err := selectKinds("nonsense"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestTimeoutFor(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scenarios.TimeoutS = 30
	cfg.Scenarios.NormalTimeoutS = 60

	if got := timeoutFor(cfg, scenario.Normal); got != 60*time.Second {
		t.Errorf("normal timeout: got %s", got)
	}
	if got := timeoutFor(cfg, scenario.InfiniteLoop); got != 30*time.Second {
		t.Errorf("loop timeout: got %s", got)
	}

	flagTimeout = 5 * time.Second
	defer func() { flagTimeout = 0 }()
	if got := timeoutFor(cfg, scenario.Normal); got != 5*time.Second {
		t.Errorf("flag override: got %s", got)
	}
}

func TestParamsFrom(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scenarios.BrowseDelayMS = 500
	cfg.Scenarios.LoopPauseMS = 300
	cfg.Scenarios.MaxLoopAttempts = 20
	cfg.Scenarios.StormRetries = 15
	cfg.Scenarios.StormPauseMS = 200

	p := paramsFrom(cfg)
	if p.BrowseDelay != 500*time.Millisecond {
		t.Errorf("browse delay: got %s", p.BrowseDelay)
	}
	if p.MaxLoopAttempts != 20 || p.StormRetries != 15 {
		t.Errorf("caps: got %+v", p)
	}
}
