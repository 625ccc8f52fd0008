package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"terem/internal/schema"

	"github.com/jackc/pgx/v5/pgconn"
)

func mapType(f schema.Field) (string, error) {
	switch strings.ToLower(f.Type) {
	case "string":
		return "text", nil
	case "int":
		return "bigint", nil
	case "float":
		return "double precision", nil
	case "money":
		return "numeric(18,2)", nil
	case "bool":
		return "boolean", nil
	case "date":
		return "date", nil
	case "datetime":
		return "timestamp with time zone", nil
	case "enum":
		// пока как text; enum-типы можно генерить отдельно
		return "text", nil
	case "ref":
		return "text", nil // id целевой записи
	case "array":
		// массив примитивов — jsonb
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", f.Type)
	}
}

// ddlPolicy — политика FK-бэкстопа в БД. Движок применяет каскады сам
// и раньше, чем удаляется родитель, так что ограничение в БД только
// страхует от записей мимо движка.
func ddlPolicy(p schema.OnDeletePolicy) string {
	switch p {
	case schema.OnDeleteSetNull:
		return "SET NULL"
	case schema.OnDeleteCascade:
		return "CASCADE"
	default:
		return "RESTRICT"
	}
}

// GenerateDDL возвращает карту ключ → SQL (CREATE SCHEMA/TABLE + индексы + FK).
// Ключи упорядочиваются ApplyDDL, поэтому фаза таблиц идёт раньше фазы FK.
func GenerateDDL(reg *schema.Registry) (map[string]string, error) {
	out := make(map[string]string, 2)

	type fkStmt struct {
		mod, tbl, name, col, refMod, refTbl, refCol string
		onDelete                                    string
	}
	var fks []fkStmt

	var phaseA strings.Builder
	seenSchemas := map[string]struct{}{}

	for _, e := range reg.All() {
		mod := SafeSchema(e.Module)
		tbl := SafeTable(e.Name)

		if _, ok := seenSchemas[mod]; !ok {
			fmt.Fprintf(&phaseA, "create schema if not exists %s;\n", Ident(mod))
			seenSchemas[mod] = struct{}{}
		}

		// системные колонки; при явном primary_key генерированный id не нужен
		var cols []string
		seen := map[string]struct{}{"version": {}, "created_at": {}, "updated_at": {}}
		if len(e.PrimaryKey) == 0 {
			cols = append(cols, `"id" text primary key`)
			seen["id"] = struct{}{}
		}
		cols = append(cols, `"version" bigint not null`)
		cols = append(cols, `"created_at" timestamp with time zone not null`)
		cols = append(cols, `"updated_at" timestamp with time zone not null`)

		// пользовательские поля
		for _, f := range e.Fields {
			nameLower := strings.ToLower(f.Name)
			if _, exists := seen[nameLower]; exists {
				return nil, fmt.Errorf("%s: field %q duplicates a system column", e.FQN(), f.Name)
			}
			seen[nameLower] = struct{}{}

			typ, err := mapType(f)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.FQN(), f.Name, err)
			}

			null := "null"
			if !e.IsNullable(f.Name) {
				null = "not null"
			}
			def := ""
			if f.Options != nil {
				if dv, ok := f.Options["default"]; ok && strings.TrimSpace(dv) != "" {
					def = fmt.Sprintf(" default '%s'", dv)
				}
			}
			cols = append(cols, fmt.Sprintf("%s %s %s%s", Ident(f.Name), typ, null, def))
		}

		// колонка мягкого удаления (если не объявлена полем)
		if sd := e.SoftDelete; sd != nil {
			if _, ok := seen[strings.ToLower(sd.Field)]; !ok {
				cols = append(cols, fmt.Sprintf("%s timestamp with time zone null", Ident(sd.Field)))
			}
		}

		fmt.Fprintf(&phaseA, "create table if not exists %s.%s (\n  %s\n);\n",
			Ident(mod), Ident(tbl), strings.Join(cols, ",\n  "))

		// составной PK
		if len(e.PrimaryKey) > 0 {
			parts := make([]string, 0, len(e.PrimaryKey))
			for _, p := range e.PrimaryKey {
				parts = append(parts, Ident(p))
			}
			fmt.Fprintf(&phaseA, "alter table %s.%s add constraint %s primary key (%s);\n",
				Ident(mod), Ident(tbl), strings.ToLower(e.Name+"_pk"), strings.Join(parts, ", "))
		}

		// UNIQUE по полям
		for _, f := range e.Fields {
			if f.Options != nil {
				if _, ok := f.Options["unique"]; ok {
					fmt.Fprintf(&phaseA, "create unique index if not exists %s_%s_uq on %s.%s(%s);\n",
						strings.ToLower(e.Name), strings.ToLower(f.Name),
						Ident(mod), Ident(tbl), Ident(f.Name))
				}
			}
		}

		// UNIQUE составные
		for _, set := range e.Constraints.Unique {
			if len(set) == 0 {
				continue
			}
			idxName := strings.ToLower(e.Name + "_" + strings.Join(set, "_") + "_uq")
			var parts []string
			for _, p := range set {
				parts = append(parts, Ident(p))
			}
			fmt.Fprintf(&phaseA, "create unique index if not exists %s on %s.%s(%s);\n",
				Ident(idxName), Ident(mod), Ident(tbl), strings.Join(parts, ", "))
		}

		// FK из объявленных связей: ограничение вешается на дочернюю таблицу
		for _, rel := range e.Relations {
			if rel.Kind == schema.BelongsTo || rel.OnDelete == schema.OnDeleteNone {
				continue
			}
			target, ok := reg.Resolve(e, rel.Target)
			if !ok {
				return nil, fmt.Errorf("%s: relation %q targets unknown entity %q", e.FQN(), rel.Name, rel.Target)
			}
			fks = append(fks, fkStmt{
				mod:      SafeSchema(target.Module),
				tbl:      SafeTable(target.Name),
				name:     strings.ToLower(target.Name + "_" + rel.ForeignKey + "_fk"),
				col:      rel.ForeignKey,
				refMod:   mod,
				refTbl:   tbl,
				refCol:   e.LocalKeyOf(rel),
				onDelete: ddlPolicy(rel.OnDelete),
			})
		}
	}

	out["000_schemas_and_tables"] = phaseA.String()

	// --- Phase B: foreign keys (после создания всех таблиц) ---
	var phaseB strings.Builder
	seenFK := map[string]struct{}{}
	for _, fk := range fks {
		if _, dup := seenFK[fk.mod+"."+fk.tbl+"."+fk.name]; dup {
			continue
		}
		seenFK[fk.mod+"."+fk.tbl+"."+fk.name] = struct{}{}
		fmt.Fprintf(&phaseB,
			"alter table %s.%s add constraint %s foreign key (%s) references %s.%s(%s) on delete %s;\n",
			Ident(fk.mod), Ident(fk.tbl),
			fk.name,
			Ident(fk.col),
			Ident(fk.refMod), Ident(fk.refTbl), Ident(fk.refCol),
			fk.onDelete,
		)
	}
	if phaseB.Len() > 0 {
		out["200_foreign_keys"] = phaseB.String()
	}

	return out, nil
}

// ApplyDDL выполняет map[key]sql в стабильном порядке ключей.
// Ожидается idempotent DDL (create ... if not exists); duplicate_object
// (42710/42P16) пропускаем, чтобы повторный запуск не падал.
func ApplyDDL(db *sql.DB, ddl map[string]string) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// pgx/stdlib возвращает *pgconn.PgError
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P16") {
				log.Printf("DDL skipped (already exists): %s (%s)", pgErr.ConstraintName, strings.TrimSpace(pgErr.Message))
				continue
			}
			// подстраховка по фразе (на случай других объектов)
			e := strings.ToLower(err.Error())
			if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
				log.Printf("DDL skipped (already exists): %v", err)
				continue
			}
			return fmt.Errorf("DDL apply failed: %w", err)
		}
	}
	return nil
}
