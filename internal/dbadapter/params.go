package dbadapter

import (
	"encoding/json"
	"fmt"
)

// targetConfig mirrors the fields a Target.Config JSON document may carry;
// which ones are meaningful depends on db_type (§3).
type targetConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	BoltURL  string `json:"bolt_url"`
	FilePath string `json:"file_path"`
}

// targetSecrets mirrors the decrypted Target.Secrets JSON document.
type targetSecrets struct {
	Password string `json:"password"`
}

// ParamsFromTarget parses a target's Config and decrypted Secrets JSON
// documents into ConnectionParams for the given db_type. Config is never
// sensitive; secrets may be an empty string when the target has none.
func ParamsFromTarget(dbType, config, secrets string) (ConnectionParams, error) {
	var cfg targetConfig
	if config != "" {
		if err := json.Unmarshal([]byte(config), &cfg); err != nil {
			return ConnectionParams{}, fmt.Errorf("dbadapter: parse target config: %w", err)
		}
	}
	var sec targetSecrets
	if secrets != "" {
		if err := json.Unmarshal([]byte(secrets), &sec); err != nil {
			return ConnectionParams{}, fmt.Errorf("dbadapter: parse target secrets: %w", err)
		}
	}

	return ConnectionParams{
		DBType:   dbType,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: sec.Password,
		BoltURL:  cfg.BoltURL,
		FilePath: cfg.FilePath,
	}, nil
}
