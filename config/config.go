package config

import (
	"database/sql"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"recording-ingest/constant"
	"strings"
	"time"
)

type Config struct {
	MinIOBucket  string        `yaml:"minio_bucket"`
	App          App           `yaml:"app"`
	DB           *sql.DB       `yaml:"db"`
	Queue        *RabbitMQ     `yaml:"rabbitmq"`
	Storage      *minio.Client `yaml:"storage"`
	Server       Server        `yaml:"server"`
	Staging      Staging       `yaml:"staging"`
	ControlPlane ControlPlane  `yaml:"control_plane"`
	OpenAI       OpenAI        `yaml:"openai"`
	Enrichment   Enrichment    `yaml:"enrichment"`
	Ingest       Ingest        `yaml:"ingest"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort        string `yaml:"http_port"`
	Workers         int    `yaml:"workers"`
	AllowedOrigin   string `yaml:"allowed_origin"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

type Staging struct {
	Dir string `yaml:"dir"`
}

type ControlPlane struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type OpenAI struct {
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	TranscriptionModel string        `yaml:"transcription_model"`
	ChatModel          string        `yaml:"chat_model"`
	Timeout            time.Duration `yaml:"timeout"`
}

type Enrichment struct {
	MaxTranscriptionBytes int64                 `yaml:"max_transcription_bytes"`
	Deadline              time.Duration         `yaml:"deadline"`
	Dispatch              constant.DispatchMode `yaml:"dispatch"`
}

type Ingest struct {
	RejectExisting bool `yaml:"reject_existing"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("server.port", "5001")
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.max_message_bytes", 16<<20)
	v.SetDefault("staging.dir", "temp_upload")
	v.SetDefault("minio.secure", true)
	v.SetDefault("control_plane.timeout", 15*time.Second)
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.chat_model", "gpt-3.5-turbo")
	v.SetDefault("openai.timeout", 2*time.Minute)
	v.SetDefault("enrichment.max_transcription_bytes", constant.DefaultMaxTranscriptionBytes)
	v.SetDefault("enrichment.deadline", 10*time.Minute)
	v.SetDefault("enrichment.dispatch", string(constant.DispatchInline))
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
}

// Load reads config.yaml from path. Every key can be overridden from the
// environment, e.g. MINIO_BUCKET or CONTROL_PLANE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := fromViper(v)

	if dsn := v.GetString("postgresql_host"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	if endpoint := v.GetString("minio.url"); endpoint != "" {
		minioClient, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
			Secure: v.GetBool("minio.secure"),
			Region: v.GetString("minio.region"),
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort:        v.GetString("server.port"),
			Workers:         v.GetInt("server.workers"),
			AllowedOrigin:   v.GetString("server.allowed_origin"),
			MaxMessageBytes: v.GetInt64("server.max_message_bytes"),
		},
		Staging: Staging{
			Dir: v.GetString("staging.dir"),
		},
		ControlPlane: ControlPlane{
			URL:     v.GetString("control_plane.url"),
			Timeout: v.GetDuration("control_plane.timeout"),
		},
		OpenAI: OpenAI{
			APIKey:             v.GetString("openai.api_key"),
			BaseURL:            v.GetString("openai.base_url"),
			TranscriptionModel: v.GetString("openai.transcription_model"),
			ChatModel:          v.GetString("openai.chat_model"),
			Timeout:            v.GetDuration("openai.timeout"),
		},
		Enrichment: Enrichment{
			MaxTranscriptionBytes: v.GetInt64("enrichment.max_transcription_bytes"),
			Deadline:              v.GetDuration("enrichment.deadline"),
			Dispatch:              constant.DispatchMode(v.GetString("enrichment.dispatch")),
		},
		Ingest: Ingest{
			RejectExisting: v.GetBool("ingest.reject_existing"),
		},
	}

	if host := v.GetString("rabbitmq_host"); host != "" {
		cfg.Queue = &RabbitMQ{
			Host:         host,
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
		}
	}

	return cfg
}
