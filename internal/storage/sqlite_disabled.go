//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "tokbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New(`storage driver "sqlite" requires building with -tags sqlite`)
}
