//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "streambot/pkg/logx"
)

func openSQLite(_ Config, _ logx.Logger) (Store, error) {
	return nil, errors.New(`sqlite support not compiled in; rebuild with -tags sqlite`)
}
