package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		// 为空时修订日志只放内存
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"auth"`
	Sync struct {
		// 客户端连的协作服务地址，例如 http://127.0.0.1:8081/collab
		Server        string        `mapstructure:"server"`
		AckTimeout    time.Duration `mapstructure:"ack_timeout"`
		MaxRetry      int           `mapstructure:"max_retry"`
		BaseBackoff   time.Duration `mapstructure:"base_backoff"`
		MaxBackoff    time.Duration `mapstructure:"max_backoff"`
		Heartbeat     time.Duration `mapstructure:"heartbeat"`
		GapBudget     int           `mapstructure:"gap_budget"`
		SnapshotEvery uint64        `mapstructure:"snapshot_every"`
		RingCap       int           `mapstructure:"ring_cap"`
	} `mapstructure:"sync"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8081)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("kafka.topic", "folder-revisions")
	v.SetDefault("auth.ttl", time.Hour)
	v.SetDefault("sync.server", "http://127.0.0.1:8081/collab")
	v.SetDefault("sync.ack_timeout", 5*time.Second)
	v.SetDefault("sync.max_retry", 3)
	v.SetDefault("sync.base_backoff", 50*time.Millisecond)
	v.SetDefault("sync.max_backoff", 5*time.Second)
	v.SetDefault("sync.heartbeat", 30*time.Second)
	v.SetDefault("sync.gap_budget", 8)
	v.SetDefault("sync.snapshot_every", 100)
	v.SetDefault("sync.ring_cap", 1024)
}

// Load 读 folderSyncConfig.yaml，FOLDERSYNC_ 前缀的环境变量覆盖同名配置（FOLDERSYNC_MYSQL_DSN）
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("folderSyncConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	v.SetEnvPrefix("FOLDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
