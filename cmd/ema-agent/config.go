package main

import (
	orchestration "github.com/koscakluka/ema-graph/core"
	"github.com/koscakluka/ema-graph/internal/config"
	"github.com/koscakluka/ema-graph/internal/telemetry"
)

type agentConfig struct {
	ListenAddr string `env:"EMA_LISTEN_ADDR" envDefault:":8080"`
	Profile    string `env:"EMA_PROFILE"`
	GroqAPIKey string `env:"GROQ_API_KEY"`
	Model      string `env:"EMA_MODEL" envDefault:"openai/gpt-oss-20b"`

	System    orchestration.Config
	Telemetry telemetry.Config
}

func loadConfig() (agentConfig, error) {
	var cfg agentConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return agentConfig{}, err
	}
	if profilePath != "" {
		cfg.Profile = profilePath
	}
	return cfg, nil
}
