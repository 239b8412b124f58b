package persistence

import (
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DialectorOpener returns a gorm.Dialector for a DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	providers  = make(map[string]DialectorOpener)
)

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// Register adds a database provider to the registry.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = opener
}

// Open creates a migrated Repository for the named provider.
func Open(name, dsn string, config *gorm.Config) (*Repository, error) {
	registryMu.RLock()
	opener, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("persistence: unknown storage provider %q", name)
	}
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(opener(dsn), config)
	if err != nil {
		return nil, err
	}
	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, err
	}
	return repo, nil
}
