// Package config loads test plans from YAML or JSON files and converts them
// into run and client settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"steadyvu/internal/executor"
	"steadyvu/internal/runner"
	"steadyvu/internal/threshold"
)

// DefaultMaxDuration bounds an iterations-only plan that names no duration.
const DefaultMaxDuration = 10 * time.Minute

// Plan is the on-disk description of a load test.
type Plan struct {
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"base_url"`

	// VUs and Duration are the constant-load shorthand used when no stages
	// are given.
	VUs      int      `yaml:"vus" json:"vus"`
	Duration Duration `yaml:"duration" json:"duration"`

	StartVUs int         `yaml:"start_vus" json:"start_vus"`
	Stages   []StagePlan `yaml:"stages" json:"stages"`
	// Iterations caps iterations across all VUs.
	Iterations   int64    `yaml:"iterations" json:"iterations"`
	MaxDuration  Duration `yaml:"max_duration" json:"max_duration"`
	Tick         Duration `yaml:"tick" json:"tick"`
	GracefulStop Duration `yaml:"graceful_stop" json:"graceful_stop"`

	Thresholds map[string][]string `yaml:"thresholds" json:"thresholds"`

	HTTP    HTTPPlan    `yaml:"http" json:"http"`
	Journey JourneyPlan `yaml:"journey" json:"journey"`
}

type StagePlan struct {
	Duration Duration `yaml:"duration" json:"duration"`
	Target   int      `yaml:"target" json:"target"`
}

type HTTPPlan struct {
	Timeout   Duration `yaml:"timeout" json:"timeout"`
	RateLimit float64  `yaml:"rate_limit" json:"rate_limit"`
	Burst     int      `yaml:"burst" json:"burst"`
	MaxConns  int      `yaml:"max_conns" json:"max_conns"`
	Insecure  bool     `yaml:"insecure" json:"insecure"`
	UserAgent string   `yaml:"user_agent" json:"user_agent"`
}

// JourneyPlan tunes the built-in user journey.
type JourneyPlan struct {
	ThinkMin    Duration `yaml:"think_min" json:"think_min"`
	ThinkMax    Duration `yaml:"think_max" json:"think_max"`
	KeepSession bool     `yaml:"keep_session" json:"keep_session"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// Default returns the plan used when no file is given: the staged ramp and
// thresholds of the reference user-flow test.
func Default() *Plan {
	return &Plan{
		Name: "user-journey",
		Stages: []StagePlan{
			{Duration: Duration(30 * time.Second), Target: 20},
			{Duration: Duration(time.Minute), Target: 50},
			{Duration: Duration(30 * time.Second), Target: 100},
			{Duration: Duration(30 * time.Second), Target: 0},
		},
		Thresholds: map[string][]string{
			"http_req_duration": {"p(95) < 1500"},
			"http_req_failed":   {"rate < 0.05"},
			"success_rate":      {"rate > 0.9"},
		},
		HTTP: HTTPPlan{Timeout: Duration(10 * time.Second)},
		Journey: JourneyPlan{
			ThinkMin: Duration(time.Second),
			ThinkMax: Duration(3 * time.Second),
		},
	}
}

// LoadFile reads a plan from a .yaml, .yml or .json file.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan Plan
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format: %s", ext)
	}

	return &plan, nil
}

// Validate reports every problem in the plan at once.
func (p *Plan) Validate() error {
	var result *multierror.Error

	if p.VUs < 0 {
		result = multierror.Append(result, fmt.Errorf("vus must be non-negative"))
	}
	if p.StartVUs < 0 {
		result = multierror.Append(result, fmt.Errorf("start_vus must be non-negative"))
	}
	if p.Iterations < 0 {
		result = multierror.Append(result, fmt.Errorf("iterations must be non-negative"))
	}
	if len(p.Stages) == 0 && p.VUs == 0 {
		result = multierror.Append(result, fmt.Errorf("either stages or vus must be set"))
	}
	if len(p.Stages) == 0 && p.VUs > 0 && p.Duration == 0 && p.Iterations == 0 {
		result = multierror.Append(result, fmt.Errorf("vus requires duration or iterations"))
	}
	for i, s := range p.Stages {
		if s.Duration < 0 {
			result = multierror.Append(result, fmt.Errorf("stages[%d].duration must be non-negative", i))
		}
		if s.Target < 0 {
			result = multierror.Append(result, fmt.Errorf("stages[%d].target must be non-negative", i))
		}
	}
	if p.HTTP.RateLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("http.rate_limit must be non-negative"))
	}
	if p.Journey.ThinkMax < p.Journey.ThinkMin {
		result = multierror.Append(result, fmt.Errorf("journey.think_max must not be below think_min"))
	}
	for metric, exprs := range p.Thresholds {
		for _, expr := range exprs {
			if _, err := threshold.Parse(expr); err != nil {
				result = multierror.Append(result, fmt.Errorf("thresholds.%s: %w", metric, err))
			}
		}
	}

	return result.ErrorOrNil()
}

// RunConfig converts the plan into engine settings. A plan with no stages
// becomes a single flat stage at VUs.
func (p *Plan) RunConfig() (runner.RunConfig, error) {
	if err := p.Validate(); err != nil {
		return runner.RunConfig{}, err
	}

	cfg := runner.RunConfig{
		StartVUs:      p.StartVUs,
		Thresholds:    p.Thresholds,
		MaxIterations: p.Iterations,
		MaxDuration:   time.Duration(p.MaxDuration),
		Tick:          time.Duration(p.Tick),
		GracefulStop:  time.Duration(p.GracefulStop),
	}

	if len(p.Stages) > 0 {
		for _, s := range p.Stages {
			cfg.Stages = append(cfg.Stages, runner.Stage{Duration: time.Duration(s.Duration), Target: s.Target})
		}
	} else {
		d := time.Duration(p.Duration)
		if d == 0 {
			d = DefaultMaxDuration
		}
		cfg.StartVUs = p.VUs
		cfg.Stages = []runner.Stage{{Duration: d, Target: p.VUs}}
	}

	return cfg.Normalize()
}

// ClientOptions returns the request executor settings of the plan.
func (p *Plan) ClientOptions() executor.Options {
	return executor.Options{
		BaseURL:            p.BaseURL,
		Timeout:            time.Duration(p.HTTP.Timeout),
		MaxConns:           p.HTTP.MaxConns,
		InsecureSkipVerify: p.HTTP.Insecure,
		UserAgent:          p.HTTP.UserAgent,
		RateLimit:          p.HTTP.RateLimit,
		Burst:              p.HTTP.Burst,
	}
}
