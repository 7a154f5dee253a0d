package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"minos/common"
)

type demoConfig struct {
	Rounds           int   `yaml:"rounds"`
	TickMicros       int   `yaml:"tick_micros"`
	ProducerPriority uint8 `yaml:"producer_priority"`
	ConsumerPriority uint8 `yaml:"consumer_priority"`
	AckTimeoutTicks  int64 `yaml:"ack_timeout_ticks"`
	Verbose          bool  `yaml:"verbose"`
}

func defaultConfig() demoConfig {
	return demoConfig{
		Rounds:           10,
		TickMicros:       500,
		ProducerPriority: 20,
		ConsumerPriority: 10,
		AckTimeoutTicks:  50,
	}
}

func loadConfig(path string) demoConfig {
	cfg := defaultConfig()
	if path == "" {
		return cfg
	}
	raw, err := os.ReadFile(path)
	common.PanicIfErr(err)
	common.PanicIfErr(yaml.Unmarshal(raw, &cfg))
	return cfg
}

func main() {
	configPath := flag.String("config", "", "demo config yaml, defaults apply when empty")
	flag.Parse()

	cfg := loadConfig(*configPath)

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.TraceLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	stats, err := runDemo(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("demo failed")
	}
	for key, n := range stats {
		fmt.Printf("%-12s %d\n", key, n)
	}
}
