package sqlstore

import (
	"database/sql"
	"encoding/json"
	"errors"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// scopesJSON encodes scopes for raw UPDATE statements; model writes go
// through the jsonb column tag instead.
func scopesJSON(scopes []string) string {
	encoded, err := json.Marshal(nonNilScopes(scopes))
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
