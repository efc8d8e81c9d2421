package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, 5432, cfg.Database.Port)
			assert.Equal(t, "intern_crm", cfg.Database.Database)
			assert.True(t, cfg.RabbitMQ.Enabled)
			assert.Equal(t, "intern_crm", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "fetch_triggers", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "intern-crm-api", cfg.App.Name)
			assert.Equal(t, []string{"scripts/fetch_jobs.py"}, cfg.Ingest.Args)
			assert.Equal(t, 5*time.Second, cfg.Ingest.KillGrace)
			assert.Equal(t, time.Hour, cfg.Progress.Retention)
			assert.Equal(t, 90*time.Second, cfg.Progress.OwnerTimeout)
			assert.Equal(t, 6*time.Hour, cfg.Scheduler.Interval)
			assert.Equal(t, []string{"Remote", "Hanoi"}, cfg.Scheduler.Filters.Locations)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, SourceFile, cfg.Ingest.Source)
	assert.Equal(t, ProgressStoreMemory, cfg.Progress.Store)
	assert.Equal(t, "topic", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Run("default when unset", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, "secret", cfg.Database.Password)
		assert.Empty(t, cfg.Redis.Addr)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("TEST_DB_PASSWORD", "from-env")
		t.Setenv("TEST_REDIS_ADDR", "redis:6379")

		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Database.Password)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CRM_HOST", "db.internal")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "set variable", in: "host: ${CRM_HOST}", want: "host: db.internal"},
		{name: "default ignored when set", in: "host: ${CRM_HOST:-localhost}", want: "host: db.internal"},
		{name: "default used when unset", in: "host: ${CRM_MISSING:-localhost}", want: "host: localhost"},
		{name: "unset without default", in: "host: ${CRM_MISSING}", want: "host: "},
		{name: "bare dollar untouched", in: "price: $5", want: "price: $5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(expandEnv([]byte(tt.in))))
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "intern_crm",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "intern_crm"},
			Queue:    QueueConfig{Name: "fetch_triggers"},
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			ShutdownTimeout: 30 * time.Second,
		},
		Ingest:   IngestConfig{Source: SourceProcess, Command: "python3"},
		Progress: ProgressConfig{Store: ProgressStoreMemory},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "rabbitmq enabled without host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq disabled skips its checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{}
			},
		},
		{
			name:      "redis store without addr",
			mutate:    func(c *Config) { c.Progress.Store = ProgressStoreRedis },
			errString: "redis addr is required",
		},
		{
			name:      "unknown progress store",
			mutate:    func(c *Config) { c.Progress.Store = "etcd" },
			errString: "unknown progress store",
		},
		{
			name:      "process source without command",
			mutate:    func(c *Config) { c.Ingest.Command = "" },
			errString: "ingest command is required",
		},
		{
			name:      "file source without path",
			mutate:    func(c *Config) { c.Ingest.Source = SourceFile },
			errString: "ingest file_path is required",
		},
		{
			name:      "unknown source",
			mutate:    func(c *Config) { c.Ingest.Source = "ftp" },
			errString: "unknown ingest source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:   "server port not required",
			mutate: func(c *Config) { c.Server.Port = 0 },
		},
		{
			name:      "rabbitmq disabled",
			mutate:    func(c *Config) { c.RabbitMQ.Enabled = false },
			errString: "rabbitmq must be enabled",
		},
		{
			name:      "missing queue",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "scheduler without interval",
			mutate:    func(c *Config) { c.Scheduler.Enabled = true },
			errString: "scheduler interval must be greater than 0",
		},
		{
			name:      "shared checks still apply",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
