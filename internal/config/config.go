package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GeneralParams  GeneralParams
	MainDBParams   MainDBParams
	AuthDBParams   AuthDBParams
	MQTTParams     MQTTParams
	CallParams     CallParams
	DeliveryParams DeliveryParams
	S3Params       S3Params
}

type GeneralParams struct {
	Env         string
	SecretKey   string
	HTTPaddress string
	NodeID      string
}

type MainDBParams struct {
	Username string
	Password string
	Name     string
	Port     int
	Host     string
	Timeout  int
}

type AuthDBParams struct {
	Host     string
	Username string
	Password string
}

type MQTTParams struct {
	Broker string
	QoS    int
}

type CallParams struct {
	NoAnswerTimeoutSecs  int
	ReconnectTimeoutSecs int
}

type DeliveryParams struct {
	BaseDelayMs    int
	BackoffFactor  float64
	MaxDelayMs     int
	MaxAttempts    int
	FlushSpacingMs int
}

type S3Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

type ConfigManager struct {
	v      *viper.Viper
	config *Config
}

// NewConfigManager creates new config manager that handles
// all viper config options and loads a config from yaml
func NewConfigManager(configPath string) (*ConfigManager, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cm := &ConfigManager{v: v}

	if err := cm.loadConfig(); err != nil {
		return nil, err
	}

	return cm, nil
}

// Extracting data from yaml file and loading into Config
func (cm *ConfigManager) loadConfig() error {
	cm.config = &Config{
		GeneralParams: GeneralParams{
			Env:         cm.v.GetString("general_params.env"),
			SecretKey:   cm.v.GetString("general_params.secret_key"),
			HTTPaddress: cm.v.GetString("general_params.http_server_address"),
			NodeID:      cm.v.GetString("general_params.node_id"),
		},
		MainDBParams: MainDBParams{
			Username: cm.v.GetString("main_db_params.db_username"),
			Password: cm.v.GetString("main_db_params.db_password"),
			Name:     cm.v.GetString("main_db_params.db_name"),
			Port:     cm.v.GetInt("main_db_params.db_port"),
			Host:     cm.v.GetString("main_db_params.db_host"),
			Timeout:  cm.v.GetInt("main_db_params.db_timeout"),
		},
		AuthDBParams: AuthDBParams{
			Host:     cm.v.GetString("auth_db_params.db_host"),
			Username: cm.v.GetString("auth_db_params.db_username"),
			Password: cm.v.GetString("auth_db_params.db_password"),
		},
		MQTTParams: MQTTParams{
			Broker: cm.v.GetString("mqtt_params.broker"),
			QoS:    cm.v.GetInt("mqtt_params.qos"),
		},
		CallParams: CallParams{
			NoAnswerTimeoutSecs:  cm.v.GetInt("call_params.no_answer_timeout_seconds"),
			ReconnectTimeoutSecs: cm.v.GetInt("call_params.reconnect_timeout_seconds"),
		},
		DeliveryParams: DeliveryParams{
			BaseDelayMs:    cm.v.GetInt("delivery_params.base_delay_ms"),
			BackoffFactor:  cm.v.GetFloat64("delivery_params.backoff_factor"),
			MaxDelayMs:     cm.v.GetInt("delivery_params.max_delay_ms"),
			MaxAttempts:    cm.v.GetInt("delivery_params.max_attempts"),
			FlushSpacingMs: cm.v.GetInt("delivery_params.flush_spacing_ms"),
		},
		S3Params: S3Params{
			Endpoint:        cm.v.GetString("s3_params.endpoint"),
			AccessKeyID:     cm.v.GetString("s3_params.access_key_id"),
			SecretAccessKey: cm.v.GetString("s3_params.secret_access_key"),
			UseSSL:          cm.v.GetBool("s3_params.use_ssl"),
			BucketName:      cm.v.GetString("s3_params.bucket_name"),
		},
	}
	return nil
}

// Geting config instance
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// Compiling a string to connect to main db
func (db *MainDBParams) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=%d&sslmode=disable",
		db.Username,
		db.Password,
		db.Host,
		db.Port,
		db.Name,
		db.Timeout,
	)
}

// NoAnswerTimeout returns the call no-answer timeout, defaulted when unset
func (c *CallParams) NoAnswerTimeout() time.Duration {
	if c.NoAnswerTimeoutSecs <= 0 {
		return 35 * time.Second
	}
	return time.Duration(c.NoAnswerTimeoutSecs) * time.Second
}

// ReconnectTimeout returns the reconnect grace period, defaulted when unset
func (c *CallParams) ReconnectTimeout() time.Duration {
	if c.ReconnectTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ReconnectTimeoutSecs) * time.Second
}

func (c *Config) Validate() error {
	// Checking secret key
	if c.GeneralParams.SecretKey == "" {
		return fmt.Errorf("parameter secret_key is required")
	}

	// Checking http address
	if c.GeneralParams.HTTPaddress == "" {
		return fmt.Errorf("parameter http_server_address is required")
	}

	if c.GeneralParams.NodeID == "" {
		return fmt.Errorf("parameter node_id is required")
	}

	// Checking out enviroment variable
	switch c.GeneralParams.Env {
	case "dev", "prod", "test":
	default:
		return fmt.Errorf("env parameter is invalid: %s. try dev/prod/test instead", c.GeneralParams.Env)
	}

	// Checking MainDbparams
	for name, mainDbConf := range map[string]MainDBParams{
		"MainDB": c.MainDBParams,
	} {
		if mainDbConf.Host == "" {
			return fmt.Errorf("%s: host is required", name)
		}
		if mainDbConf.Username == "" {
			return fmt.Errorf("%s: username is required", name)
		}
		if mainDbConf.Password == "" {
			return fmt.Errorf("%s: password is required", name)
		}
		if mainDbConf.Port <= 0 || mainDbConf.Port > 65535 {
			return fmt.Errorf("%s: port is invalid", name)
		}
	}

	// Checking AuthDbParams
	if c.AuthDBParams.Host == "" {
		return fmt.Errorf("AuthDB: host is required")
	}

	// Checking MQTT params
	if c.MQTTParams.Broker == "" {
		return fmt.Errorf("MQTT broker address is required")
	}
	if c.MQTTParams.QoS < 0 || c.MQTTParams.QoS > 2 {
		return fmt.Errorf("MQTT qos must be 0, 1 or 2")
	}

	// Checking delivery params
	if c.DeliveryParams.BackoffFactor != 0 && c.DeliveryParams.BackoffFactor < 1 {
		return fmt.Errorf("delivery backoff_factor must be >= 1")
	}
	if c.DeliveryParams.MaxAttempts < 0 {
		return fmt.Errorf("delivery max_attempts must be positive")
	}

	// Checking S3 params
	if c.S3Params.Endpoint == "" {
		return fmt.Errorf("S3 endpoint is required")
	}
	if c.S3Params.AccessKeyID == "" {
		return fmt.Errorf("S3 access_key id is required")
	}
	if c.S3Params.SecretAccessKey == "" {
		return fmt.Errorf("S3 secret_access_key is required")
	}
	if c.S3Params.BucketName == "" {
		return fmt.Errorf("S3 bucket name is required")
	}

	return nil
}
