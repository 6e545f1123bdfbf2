package config

import (
	"sort"
	"strings"

	logx "cronsql/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes DSNs or passwords),
// and (3) the changed settings that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.spec", strings.TrimSpace(newCfg.Scheduler.Spec)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Queries != newCfg.Queries {
		changed = append(changed, "queries")
		attrs = append(attrs,
			logx.String("queries.base_path", strings.TrimSpace(newCfg.Queries.BasePath)),
			logx.String("queries.prefix", newCfg.Queries.Prefix),
		)
	}

	o, n := oldCfg.Database, newCfg.Database
	if o != n {
		changed = append(changed, "database")
		attrs = append(attrs,
			logx.String("database.driver", strings.TrimSpace(n.Driver)),
			logx.String("database.statement_timeout", strings.TrimSpace(n.StatementTimeout)),
			logx.Any("database.statements_per_sec", n.StatementsPerSec),
		)
		if !strings.EqualFold(strings.TrimSpace(o.Driver), strings.TrimSpace(n.Driver)) {
			restart = append(restart, "database.driver")
		}
		if o.DSN != n.DSN {
			restart = append(restart, "database.dsn")
		}
		if o.MaxOpenConns != n.MaxOpenConns {
			restart = append(restart, "database.max_open_conns")
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
		restart = append(restart, "storage")
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
