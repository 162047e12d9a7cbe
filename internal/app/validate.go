package app

import (
	"fmt"
	"os"

	"chatsync/pkg/config"

	"github.com/adhocore/gronx"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or server.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if ret := eff.Config.Retention; ret.Enabled && ret.Cron != "" {
		if !gronx.IsValid(ret.Cron) {
			return fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
		}
	}

	if sb := eff.Config.Sync.SubscriberBuffer; sb < 0 {
		return fmt.Errorf("sync.subscriber_buffer must not be negative")
	}
	return nil
}
