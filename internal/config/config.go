package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	API      APIConfig      `mapstructure:"api"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"` // 透传的会话令牌，认证本身由外部负责
}

type ChannelConfig struct {
	URL              string        `mapstructure:"url"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnectWait time.Duration `mapstructure:"max_reconnect_wait"`
	// PingInterval 保活 ping 周期
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongTimeout pong 静默超时，超过后视为半开连接主动断开重连
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
}

type TimeoutsConfig struct {
	// Snapshot 快照类 REST 调用超时
	Snapshot time.Duration `mapstructure:"snapshot"`
	// Send 消息发送确认超时，超时后乐观消息转为 failed
	Send time.Duration `mapstructure:"send"`
	// TypingQuiet 输入静默窗口
	// 发送端的自动 stop 与接收端的对端过期共用同一个值，避免两端漂移
	TypingQuiet time.Duration `mapstructure:"typing_quiet"`
}

// Load 从指定路径加载配置
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default 返回带默认值的配置（测试和嵌入场景使用）
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "im-client"
	}
	if c.Channel.MaxReconnects == 0 {
		c.Channel.MaxReconnects = -1 // 无限重连
	}
	if c.Channel.ReconnectWait <= 0 {
		c.Channel.ReconnectWait = time.Second
	}
	if c.Channel.MaxReconnectWait <= 0 {
		c.Channel.MaxReconnectWait = 30 * time.Second
	}
	if c.Channel.PingInterval <= 0 {
		c.Channel.PingInterval = 30 * time.Second
	}
	if c.Channel.PongTimeout <= 0 {
		c.Channel.PongTimeout = 90 * time.Second
	}
	if c.Timeouts.Snapshot <= 0 {
		c.Timeouts.Snapshot = 5 * time.Second
	}
	if c.Timeouts.Send <= 0 {
		c.Timeouts.Send = 10 * time.Second
	}
	if c.Timeouts.TypingQuiet <= 0 {
		c.Timeouts.TypingQuiet = 2 * time.Second
	}
}
