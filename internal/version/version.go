// Package version хранит сведения о сборке, которые подставляются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields возвращает поля сборки для стартовой записи в лог.
func Fields() log.Fields {
	return log.Fields{
		"version":    version,
		"commit":     commit,
		"build_date": date,
	}
}

// String форматирует сведения о сборке одной строкой.
func String() string {
	return fmt.Sprintf("fulfillment %s (commit %s, built %s)", version, commit, date)
}
