package workers

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/torrentnode/replicator/log"
	"github.com/torrentnode/replicator/storage/index"
)

var sqlMirrorLog = log.New("workers.nodetest_sql")

// nodeRegistryRow is the SQL-mirrored shape of index.NodeRegistryEntry
// (SPEC_FULL D1), keyed by Host.
type nodeRegistryRow struct {
	Host      string `gorm:"primary_key"`
	Name      string
	NodeType  string
	UpdatedAt time.Time
}

func (nodeRegistryRow) TableName() string { return "node_registry" }

// NodeRegistrySQLMirror is the optional gorm/mysql mirror of the C9
// all-nodes registry (SPEC_FULL D1): a convenience read path for operator
// SQL tooling, never the system of record. Failures here are logged and
// swallowed (§7 "Auxiliary").
type NodeRegistrySQLMirror struct {
	db *gorm.DB
}

// OpenNodeRegistrySQLMirror opens (and migrates) the mirror table using the
// given driver/DSN.
func OpenNodeRegistrySQLMirror(driver, dsn string) (*NodeRegistrySQLMirror, error) {
	db, err := gorm.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("workers: open node registry mirror: %w", err)
	}
	if err := db.AutoMigrate(&nodeRegistryRow{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("workers: migrate node registry mirror: %w", err)
	}
	return &NodeRegistrySQLMirror{db: db}, nil
}

// UpsertNode implements NodeRegistryMirror. Errors are logged at WARN and
// never propagated: the badger `node_registry:` keyspace remains
// authoritative regardless of mirror health.
func (m *NodeRegistrySQLMirror) UpsertNode(host string, entry index.NodeRegistryEntry) {
	row := nodeRegistryRow{
		Host:      host,
		Name:      entry.Name,
		NodeType:  entry.NodeType,
		UpdatedAt: time.Unix(entry.UpdatedAt, 0),
	}
	if err := m.db.Save(&row).Error; err != nil {
		sqlMirrorLog.Warn("node registry mirror upsert failed", "host", host, "err", err.Error())
	}
}

// Close releases the underlying SQL connection.
func (m *NodeRegistrySQLMirror) Close() error {
	return m.db.Close()
}
