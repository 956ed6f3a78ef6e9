package persistence

import (
	"fmt"

	"github.com/PiyushMakhija26/secure-messaging/config"
)

// NewPersister instantiates the backend selected by the persistence
// configuration. An empty configuration yields a nil persister, the relay
// then runs without durable history.
func NewPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.Type == "" || cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite":
		return NewSQLitePersister(cfg)
	case "postgres":
		return NewPostgresPersister(cfg)
	case "gorm-sqlite", "gorm-postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
