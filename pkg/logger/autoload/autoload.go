// Package autoload initialises the global logger from LOG_* environment
// variables when imported.
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/tanpawarit/airline-handoff-router/pkg/logger"
)

func init() {
	conf := *logx.DefaultConfig
	_ = envconfig.Process("LOG", &conf)
	logx.Init(conf)
}
