package postgres

import (
	"database/sql"

	ppostgres "github.com/myshop/api/internal/platform/postgres"
)

func expectOneRow(op string, res sql.Result, missing string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if affected == 0 {
		return ppostgres.NotFound(op, missing)
	}
	return nil
}
