package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GatewayURL         string        `mapstructure:"gateway_url"`
	Variant            string        `mapstructure:"variant"`
	Room               int64         `mapstructure:"room"`
	Display            string        `mapstructure:"display"`
	KeepAlivePeriod    time.Duration `mapstructure:"keepalive_period"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`
	RecordPlay         RecordPlay    `mapstructure:"recordplay"`
}

type RecordPlay struct {
	RecordingID           int64  `mapstructure:"recording_id"`
	Name                  string `mapstructure:"name"`
	Filename              string `mapstructure:"filename"`
	AudioCodec            string `mapstructure:"audiocodec"`
	VideoCodec            string `mapstructure:"videocodec"`
	VideoBitrateMax       int    `mapstructure:"video_bitrate_max"`
	VideoKeyframeInterval int    `mapstructure:"video_keyframe_interval"`
	Play                  bool   `mapstructure:"play"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("gateway_url", "ws://localhost:8188/janus")
	v.SetDefault("variant", "videoroom")
	v.SetDefault("room", 1234)
	v.SetDefault("display", "parley")
	v.SetDefault("keepalive_period", "30s")
	v.SetDefault("transaction_timeout", "30s")
	v.SetDefault("recordplay.video_bitrate_max", 1024*1024)
	v.SetDefault("recordplay.video_keyframe_interval", 15000)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
