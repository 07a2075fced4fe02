// Package config loads the server configuration. Values come from defaults,
// then an optional YAML (or JSON) file, then environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/planner"
	"go-tamp/pkg/envs/blocks"
	"gopkg.in/yaml.v3"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Planner    PlannerConfig    `json:"planner" yaml:"planner"`
	Competence CompetenceConfig `json:"competence" yaml:"competence"`
	Explorer   ExplorerConfig   `json:"explorer" yaml:"explorer"`
	Env        EnvConfig        `json:"env" yaml:"env"`
	Store      StoreConfig      `json:"store" yaml:"store"`
}

type ServerConfig struct {
	Port            int           `json:"port" yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	StatusTimeout   time.Duration `json:"status_timeout" yaml:"status_timeout" validate:"gt=0"`
	MaxEpisodes     int           `json:"max_episodes" yaml:"max_episodes" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

type PlannerConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Heuristic string        `json:"heuristic" yaml:"heuristic" validate:"omitempty,oneof=blind goal_count hadd hmax"`
}

// CompetenceConfig holds the Beta prior shared by every competence model.
type CompetenceConfig struct {
	Alpha float64 `json:"alpha" yaml:"alpha" validate:"gt=0"`
	Beta  float64 `json:"beta" yaml:"beta" validate:"gt=0"`
}

type ExplorerConfig struct {
	Strategy         string  `json:"strategy" yaml:"strategy" validate:"oneof=task_repeat repeat success_rate planning_progress random"`
	Bonus            float64 `json:"bonus" yaml:"bonus" validate:"gte=0"`
	Horizon          int     `json:"horizon" yaml:"horizon" validate:"gte=0"`
	MaxOptionSteps   int     `json:"max_option_steps" yaml:"max_option_steps" validate:"gte=1"`
	MaxReplanRetries int     `json:"max_replan_retries" yaml:"max_replan_retries" validate:"gte=0"`
	ReplanFrequency  int     `json:"replan_frequency" yaml:"replan_frequency" validate:"gte=1"`
	MaxReplanTasks   int     `json:"max_replan_tasks" yaml:"max_replan_tasks" validate:"gte=0"`
	MaxScoringTasks  int     `json:"max_scoring_tasks" yaml:"max_scoring_tasks" validate:"gte=0"`
	Lookahead        int     `json:"lookahead" yaml:"lookahead" validate:"gte=0"`
	// MaxSteps is the episode budget in environment steps.
	MaxSteps       int    `json:"max_steps" yaml:"max_steps" validate:"gte=1"`
	SaveEveryDatum bool   `json:"save_every_datum" yaml:"save_every_datum"`
	Seed           uint64 `json:"seed" yaml:"seed"`
}

// EnvConfig configures the blocks world served by the API.
type EnvConfig struct {
	Blocks         int      `json:"blocks" yaml:"blocks" validate:"gte=1"`
	IncludePush    bool     `json:"include_push" yaml:"include_push"`
	Broken         []string `json:"broken" yaml:"broken" validate:"dive,oneof=PickUp PutOnTable Push"`
	PlaceThreshold float64  `json:"place_threshold" yaml:"place_threshold" validate:"gte=0,lte=1"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			StatusTimeout:   time.Minute,
			MaxEpisodes:     64,
		},
		Log: LogConfig{Level: "info", Pretty: true},
		Planner: PlannerConfig{
			Timeout:   10 * time.Second,
			Heuristic: string(planner.HMax),
		},
		Competence: CompetenceConfig{Alpha: 1, Beta: 1},
		Explorer: ExplorerConfig{
			Strategy:         handler.PlanningProgress.String(),
			Bonus:            0.1,
			Horizon:          100,
			MaxOptionSteps:   100,
			MaxReplanRetries: 1,
			ReplanFrequency:  100,
			MaxReplanTasks:   10,
			MaxScoringTasks:  10,
			Lookahead:        10,
			MaxSteps:         500,
			SaveEveryDatum:   true,
		},
		Env: EnvConfig{
			Blocks:         3,
			IncludePush:    true,
			PlaceThreshold: 0.5,
		},
		Store: StoreConfig{Path: "tamp.db"},
	}
}

// Load merges defaults, the file at path (optional) and the environment,
// then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TAMP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		}
	}
	if v := os.Getenv("TAMP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TAMP_LOG_PRETTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Pretty = b
		}
	}
	if v := os.Getenv("TAMP_PLANNING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Planner.Timeout = d
		}
	}
	if v := os.Getenv("TAMP_HEURISTIC"); v != "" {
		cfg.Planner.Heuristic = v
	}
	if v := os.Getenv("TAMP_EXPLORE_STRATEGY"); v != "" {
		cfg.Explorer.Strategy = v
	}
	if v := os.Getenv("TAMP_EXPLORE_BONUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Explorer.Bonus = f
		}
	}
	if v := os.Getenv("TAMP_MAX_STEPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Explorer.MaxSteps = i
		}
	}
	if v := os.Getenv("TAMP_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Explorer.Seed = u
		}
	}
	if v := os.Getenv("TAMP_SAVE_EVERY_DATUM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Explorer.SaveEveryDatum = b
		}
	}
	if v := os.Getenv("TAMP_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HandlerConfig converts the explorer and planner sections for the explorer.
func (c Config) HandlerConfig() (handler.Config, error) {
	strategy, err := handler.ParseTaskStrategy(c.Explorer.Strategy)
	if err != nil {
		return handler.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	h, err := planner.ParseHeuristic(c.Planner.Heuristic)
	if err != nil {
		return handler.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	e := c.Explorer
	return handler.Config{
		Strategy:         strategy,
		Bonus:            e.Bonus,
		Horizon:          e.Horizon,
		MaxOptionSteps:   e.MaxOptionSteps,
		MaxReplanRetries: e.MaxReplanRetries,
		ReplanFrequency:  e.ReplanFrequency,
		MaxReplanTasks:   e.MaxReplanTasks,
		MaxScoringTasks:  e.MaxScoringTasks,
		Lookahead:        e.Lookahead,
		SaveEveryDatum:   e.SaveEveryDatum,
		Seed:             e.Seed,
		PlanningTimeout:  c.Planner.Timeout,
		Heuristic:        h,
	}, nil
}

func (c Config) BlocksConfig() blocks.Config {
	return blocks.Config{
		Blocks:         c.Env.Blocks,
		IncludePush:    c.Env.IncludePush,
		Broken:         c.Env.Broken,
		PlaceThreshold: c.Env.PlaceThreshold,
	}
}
