package capture

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("capture",
	fx.Provide(New),
	fx.Invoke(Register),
)

// Register installs the plugin on the shared connection. Every consumer of
// *gorm.DB mutates principals through the instrumented store.
func Register(db *gorm.DB, plugin *Plugin) error {
	return db.Use(plugin)
}
