package main

import (
	"github.com/openswarm/swarm-go/pkg/config"
	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/storage/file"
	"github.com/openswarm/swarm-go/pkg/storage/mysql"
	"github.com/openswarm/swarm-go/pkg/storage/postgres"
	"github.com/openswarm/swarm-go/pkg/storage/sqlite"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// openStore builds the record store named by the storage configuration.
//
// Supported providers: file, sqlite, postgres, mysql.
func openStore(cfg config.StorageConfig) (storage.RecordStore, error) {
	conf := cfg.Config

	switch cfg.Provider {
	case "file":
		return file.New(file.Config{
			DataDir:         cfgString(conf, "data_dir", "./data"),
			BackupRetention: cfgInt(conf, "backup_retention", 3),
		})
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:    cfgString(conf, "db_path", "./swarm.db"),
			TableName: cfgString(conf, "table_name", "memories"),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:      cfgString(conf, "host", "localhost"),
			Port:      cfgInt(conf, "port", 5432),
			User:      cfgString(conf, "user", "postgres"),
			Password:  cfgString(conf, "password", ""),
			DBName:    cfgString(conf, "db_name", "swarm"),
			TableName: cfgString(conf, "table_name", "memories"),
			SSLMode:   cfgString(conf, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:      cfgString(conf, "host", "127.0.0.1"),
			Port:      cfgInt(conf, "port", 3306),
			User:      cfgString(conf, "user", "root"),
			Password:  cfgString(conf, "password", ""),
			DBName:    cfgString(conf, "db_name", "swarm"),
			TableName: cfgString(conf, "table_name", "memories"),
		})
	default:
		return nil, swarmerr.Newf(swarmerr.KindInvalidInput,
			"unknown storage provider %q", cfg.Provider)
	}
}

func cfgString(conf map[string]interface{}, key, fallback string) string {
	if v, ok := conf[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// cfgInt reads an integer setting. JSON decoding yields float64 for numbers,
// so both forms are accepted.
func cfgInt(conf map[string]interface{}, key string, fallback int) int {
	switch v := conf[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
