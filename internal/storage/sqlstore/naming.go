package sqlstore

import (
	"fmt"
	"strings"

	"terem/internal/schema"
)

// Правила именования схем/таблиц Postgres. Экспортируются, потому что
// ormstore использует те же таблицы.

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// элементарная плюрализация (достаточно для users, projects, ...)
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// SafeSchema: schema = module (lower)
func SafeSchema(module string) string { return strings.ToLower(module) }

// SafeTable: table = plural(entity) с защитой keyword'ов
func SafeTable(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		// помечаем «опасное» имя префиксом
		t = "e_" + t
	}
	return t
}

// TableFQN — "schema"."table" для сущности
func TableFQN(e *schema.Entity) string {
	return fmt.Sprintf("%s.%s", Ident(SafeSchema(e.Module)), Ident(SafeTable(e.Name)))
}

// Ident — квотированный идентификатор
func Ident(s string) string { return `"` + strings.ToLower(s) + `"` }
