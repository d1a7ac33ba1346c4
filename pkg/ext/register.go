package ext

import (
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/mattn/go-sqlite3"
)

func init() {
	storage.ExtraConnectHooks = append(storage.ExtraConnectHooks, func(conn *sqlite3.SQLiteConn) error {
		if err := Register(conn); err != nil {
			return err
		}
		return RegisterOperations(conn)
	})
}
