// Package autoload configures the global zerolog logger from LOG_* variables when
// imported for side effects.
package autoload

import (
	"os"
	"path/filepath"

	configx "github.com/tanpawarit/Chative-Studio-Agent/pkg/config"
	logx "github.com/tanpawarit/Chative-Studio-Agent/pkg/logger"
)

func init() {
	conf := configx.MustNew[logx.Config]("LOG")
	if conf.Service == "" {
		conf.Service = filepath.Base(os.Args[0])
	}
	logx.Init(*conf)
}
