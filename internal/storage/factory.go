package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// destinationConfig mirrors the non-sensitive fields of a Destination.Config
// JSON document; which ones are meaningful depends on destination_type.
type destinationConfig struct {
	BasePath       string `json:"base_path"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	ConnectTimeout int    `json:"connect_timeout_seconds"`
	RootFolderID   string `json:"root_folder_id"`
}

// destinationSecrets mirrors the decrypted Destination.Secrets JSON document.
type destinationSecrets struct {
	Password           string `json:"password"`
	PrivateKeyPEM      string `json:"private_key_pem"`
	PrivateKeyPass     string `json:"private_key_passphrase"`
	ServiceAccountJSON string `json:"service_account_json"`
}

// NewProvider builds the Provider for a destination_type from its stored
// Config and decrypted Secrets JSON documents.
func NewProvider(destinationType, config, secrets string) (Provider, error) {
	var cfg destinationConfig
	if config != "" {
		if err := json.Unmarshal([]byte(config), &cfg); err != nil {
			return nil, fmt.Errorf("storage: parse destination config: %w", err)
		}
	}
	var sec destinationSecrets
	if secrets != "" {
		if err := json.Unmarshal([]byte(secrets), &sec); err != nil {
			return nil, fmt.Errorf("storage: parse destination secrets: %w", err)
		}
	}

	switch destinationType {
	case "local":
		return &LocalProvider{BasePath: cfg.BasePath}, nil

	case "sftp":
		timeout := 10 * time.Second
		if cfg.ConnectTimeout > 0 {
			timeout = time.Duration(cfg.ConnectTimeout) * time.Second
		}
		return &SFTPProvider{Config: SFTPConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       sec.Password,
			PrivateKeyPEM:  sec.PrivateKeyPEM,
			PrivateKeyPass: sec.PrivateKeyPass,
			BasePath:       cfg.BasePath,
			ConnectTimeout: timeout,
		}}, nil

	case "google_drive":
		return &DriveProvider{Config: DriveConfig{
			ServiceAccountJSON: []byte(sec.ServiceAccountJSON),
			RootFolderID:       cfg.RootFolderID,
		}}, nil

	default:
		return nil, fmt.Errorf("storage: unrecognized destination_type %q", destinationType)
	}
}
