package migration

import (
	"fmt"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
)

// NewMigratorFromConfig creates a migrator for the configured database.
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from the database
// section alone.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	url, dbType, err := DatabaseURLFromConfig(dbCfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}

// DatabaseURLFromConfig renders the migration URL of a database section.
func DatabaseURLFromConfig(dbCfg config.DatabaseConfig) (string, DatabaseType, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}
	if dbType == DatabaseTypeSQLite {
		if dbCfg.Name == "" {
			return "", "", fmt.Errorf("sqlite database path not configured")
		}
		return BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", ""), dbType, nil
	}
	return BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode), dbType, nil
}

// NewMigratorFromURL creates a migrator from a type alias and a URL.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
	})
}
