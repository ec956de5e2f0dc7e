//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "postpilot/pkg/logx"
)

func openSQLiteHistory(cfg Config, log logx.Logger) (History, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite history not built: build with -tags sqlite")
}
