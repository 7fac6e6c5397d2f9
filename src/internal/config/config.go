package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logs        LogsSettings      `mapstructure:"logs"`
	App         Application       `mapstructure:"app"`
	Server      ServerSettings    `mapstructure:"server"`
	Database    Database          `mapstructure:"database"`
	Redis       Redis             `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Session     SessionConfig     `mapstructure:"session"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
}

type LogsSettings struct {
	Level            string `mapstructure:"level"`
	Path             string `mapstructure:"log-path"`
	EnableJSONOutput bool   `mapstructure:"enable-json-output"`
}

type Application struct {
	Name    string `mapstructure:"name"`
	Timeout int    `mapstructure:"timeout"`
	Version string `mapstructure:"version"`
}

type ServerSettings struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
	IdleTimeout  int    `mapstructure:"idle-timeout"`
}

type Database struct {
	Url               string `mapstructure:"url"`
	DbName            string `mapstructure:"dbname"`
	SessionCollection string `mapstructure:"session-collection"`
	Timeout           int    `mapstructure:"timeout"`
}

type Redis struct {
	Url      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	Db       int    `mapstructure:"db"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	Url          string `mapstructure:"url"`
	Exchange     string `mapstructure:"exchange"`
	ExchangeType string `mapstructure:"exchange-type"`
	RoutingKey   string `mapstructure:"routing-key"`
	Durable      bool   `mapstructure:"durable"`
	AutoDelete   bool   `mapstructure:"auto-delete"`
	Internal     bool   `mapstructure:"internal"`
	NoWait       bool   `mapstructure:"no-wait"`
}

type OracleConfig struct {
	Url             string `mapstructure:"url"`
	ContractAddress string `mapstructure:"contract-address"`
	Timeout         int    `mapstructure:"timeout"`
}

type SessionConfig struct {
	MaxSessionSeconds int64 `mapstructure:"max-session-seconds"`
	RetentionMinutes  int   `mapstructure:"retention-minutes"`
	GCIntervalMinutes int   `mapstructure:"gc-interval-minutes"`
	ResyncOnStart     bool  `mapstructure:"resync-on-start"`
	CacheTTLMinutes   int   `mapstructure:"cache-ttl-minutes"`
}

type EnforcementConfig struct {
	Binary string `mapstructure:"binary"`
	Chain  string `mapstructure:"chain"`
}

func Load() *Configuration {
	cfg := read()
	logrus.Info("Configuration loaded")

	// Override with environment variables
	mongoUri := os.Getenv("MONGODB_URL")
	if mongoUri != "" {
		cfg.Database.Url = mongoUri
	}

	dbName := os.Getenv("DB_NAME")
	if dbName != "" {
		cfg.Database.DbName = dbName
	}

	redisUrl := os.Getenv("REDIS_URL")
	if redisUrl != "" {
		cfg.Redis.Url = redisUrl
	}

	redisDB := os.Getenv("REDIS_DB")
	if redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.Db = db
		}
	}

	rabbitmqUrl := os.Getenv("RABBITMQ_URL")
	if rabbitmqUrl != "" {
		cfg.Queue.RabbitMQ.Url = rabbitmqUrl
	}

	oracleUrl := os.Getenv("ORACLE_URL")
	if oracleUrl != "" {
		cfg.Oracle.Url = oracleUrl
	}

	contractAddress := os.Getenv("WIFI_CONTRACT_ADDRESS")
	if contractAddress != "" {
		cfg.Oracle.ContractAddress = contractAddress
	}

	port := os.Getenv("PORT")
	if port != "" {
		cfg.Server.Port = port
	}

	return cfg
}

func read() *Configuration {
	viper.SetConfigFile("src/internal/config/cfg.yml")
	viper.AutomaticEnv()
	viper.SetConfigType("yml")

	var config Configuration

	err := viper.ReadInConfig()
	if err != nil {
		logrus.Panicf("Error reading config file, %s", err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		logrus.Panicf("Error unmarshalling config file, %s", err)
	}

	return &config
}
