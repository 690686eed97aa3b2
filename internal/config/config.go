package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	// RoomPassword is the shared secret every peer presents on setUsername.
	RoomPassword string `mapstructure:"room_password"`
	DefaultRoom  string `mapstructure:"default_room"`

	AnnouncedIP string `mapstructure:"announced_ip"`
	RTCMinPort  uint16 `mapstructure:"rtc_min_port"`
	RTCMaxPort  uint16 `mapstructure:"rtc_max_port"`
	Workers     int    `mapstructure:"workers"`

	ChatBurst  int           `mapstructure:"chat_burst"`
	ChatWindow time.Duration `mapstructure:"chat_window"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "cafe-session-secret")
	v.SetDefault("room_password", "19071907")
	v.SetDefault("default_room", "main")
	v.SetDefault("announced_ip", "")
	v.SetDefault("rtc_min_port", 40000)
	v.SetDefault("rtc_max_port", 49999)
	v.SetDefault("workers", 2)
	v.SetDefault("chat_burst", 10)
	v.SetDefault("chat_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Workers: %d\n", cfg.Mode, cfg.Port, cfg.Workers)
	return &cfg, nil
}
