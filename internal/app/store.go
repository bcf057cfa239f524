package app

import (
	"fmt"

	"remindbot/internal/config"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// OpenStore opens the job store named by the config file at cfgPath without
// starting the bot.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, error) {
	cfg, err := config.NewManager(cfgPath, log).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return st, nil
}
