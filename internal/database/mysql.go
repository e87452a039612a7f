package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), gormConfig(cfg))
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	user := cfg.User
	if cfg.Password != "" {
		user = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
	}

	options := mergeOptions(map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "UTC",
	}, cfg.Options)

	pairs := sortedPairs(options)
	opts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		opts = append(opts, kv[0]+"="+kv[1])
	}

	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s",
		user, valueOr(cfg.Host, "127.0.0.1"), portOr(cfg.Port, 3306), cfg.Name, strings.Join(opts, "&")), nil
}

func mergeOptions(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func sortedPairs(options map[string]string) [][2]string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, options[key]})
	}
	return pairs
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func portOr(port, fallback int) int {
	if port <= 0 {
		return fallback
	}
	return port
}
