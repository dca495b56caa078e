package app

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations that cannot work at startup.
func ValidateConfig(cfg Config) error {
	var errs []error

	users := 0
	for _, u := range cfg.AllowedUsers {
		if strings.TrimSpace(u) != "" {
			users++
		}
	}
	if users == 0 {
		errs = append(errs, errors.New("RELAY_ALLOWED_USERS is empty"))
	}

	if cfg.HistoryCapacity < 1 {
		errs = append(errs, fmt.Errorf("RELAY_HISTORY_CAPACITY must be >= 1 (got %d)", cfg.HistoryCapacity))
	}
	if strings.TrimSpace(cfg.HistoryDocument) == "" {
		errs = append(errs, errors.New("RELAY_HISTORY_DOCUMENT is empty"))
	}
	if cfg.MaxMediaBytes < 0 {
		errs = append(errs, errors.New("RELAY_MAX_MEDIA_BYTES must not be negative"))
	}
	if cfg.MediaSettleDelay < 0 {
		errs = append(errs, errors.New("RELAY_MEDIA_SETTLE_DELAY must not be negative"))
	}
	if cfg.UploadTimeout > 0 && cfg.UploadTimeout <= cfg.MediaSettleDelay {
		errs = append(errs, errors.New("RELAY_UPLOAD_TIMEOUT must exceed RELAY_MEDIA_SETTLE_DELAY"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("RELAY_LOG_FORMAT must be json or pretty (got %q)", cfg.LogFormat))
	}

	switch cfg.Backend() {
	case BackendMemory:
	case BackendDrive:
		if strings.TrimSpace(cfg.DriveCredentialsFile) == "" {
			errs = append(errs, errors.New("drive backend requires RELAY_DRIVE_CREDENTIALS_FILE"))
		}
		if strings.TrimSpace(cfg.ContainerID) == "" {
			errs = append(errs, errors.New("drive backend requires RELAY_CONTAINER_ID (folder id)"))
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			errs = append(errs, errors.New("postgres backend requires RELAY_DATABASE_URL"))
		}
	case BackendBadger:
		if strings.TrimSpace(cfg.BadgerPath) == "" {
			errs = append(errs, errors.New("badger backend requires RELAY_BADGER_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RELAY_STORE_BACKEND %q", cfg.StoreBackend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
