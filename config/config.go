// Package config loads the TOML configuration file named on the command
// line (spec §6: `program <config.libconfig> [true]`). Field names are kept
// verbatim between the TOML file and the Go struct, matching the
// NormFieldName/FieldToKey identity settings used by cmd/ranger/config.go in
// the teacher tree.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// Module is a named feature-module bit, frozen once the index store is
// created (spec §3 Modules key, §9 "module bitmap feature-gating").
type Module string

const (
	ModuleBlock    Module = "MODULE_BLOCK"
	ModuleBalance  Module = "MODULE_BALANCE"
	ModuleTxs      Module = "MODULE_TXS"
	ModuleAddrTxs  Module = "MODULE_ADDR_TXS"
	ModuleUsers    Module = "MODULE_USERS"
	ModuleV8       Module = "MODULE_V8"
	ModuleNodeTest Module = "MODULE_NODE_TEST"
)

// KafkaConfig configures the optional change-feed publisher (SPEC_FULL D2).
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SQLConfig configures the optional node-registry SQL mirror (SPEC_FULL D1).
type SQLConfig struct {
	Driver string
	DSN    string
}

// Config is the full process configuration, loaded from a single TOML file.
type Config struct {
	PathToDb      string
	PathToFolder  string
	CountThreads  int
	Port          int
	GetBlocksFromFile bool
	CountConnections  int
	Modules       []Module

	MaxCountElementsBlockCache int
	MaxCountElementsTxsCache   int
	MaxAdvancedLoadBlocks      int
	CountBlocksInBatch         int
	IsCompress                 bool
	IsValidate                 bool
	IsVerifySign               bool
	IsPreLoad                  bool

	Peers     []string
	PeersFile string

	MetricsAddr string

	Kafka           *KafkaConfig
	NodeRegistrySQL *SQLConfig
}

// Default values mirror the original's typical deployment sizing.
func Default() Config {
	return Config{
		CountThreads:               4,
		CountConnections:           4,
		MaxCountElementsBlockCache: 1000,
		MaxCountElementsTxsCache:   10000,
		MaxAdvancedLoadBlocks:      1000,
		CountBlocksInBatch:         100,
		IsCompress:                 true,
	}
}

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see the %s documentation for available fields", rt.String())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Load reads and decodes the TOML file at path, overlaying Default().
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return cfg, fmt.Errorf("%s, %w", path, err)
		}
		return cfg, err
	}

	return cfg, resolvePeers(&cfg)
}

// resolvePeers expands PeersFile into Peers if Peers wasn't given inline,
// matching spec §6's "optional peer list (array or file path)".
func resolvePeers(cfg *Config) error {
	if len(cfg.Peers) > 0 || cfg.PeersFile == "" {
		return nil
	}

	f, err := os.Open(cfg.PeersFile)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cfg.Peers = append(cfg.Peers, line)
	}
	return scanner.Err()
}

// HasModule reports whether m is enabled in cfg.Modules.
func (c Config) HasModule(m Module) bool {
	for _, mod := range c.Modules {
		if mod == m {
			return true
		}
	}
	return false
}
