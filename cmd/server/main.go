package main

import (
	"fmt"
	"log"

	"terem/internal/api"
	"terem/internal/config"
	"terem/internal/engine"
	"terem/internal/reference"
	"terem/internal/schema"
	"terem/internal/storage/memstore"
	"terem/internal/storage/ormstore"
	"terem/internal/storage/sqlstore"
)

func main() {
	cfg := config.LoadWithPath("terem.json")

	// 1. Схемы сущностей
	entities, err := schema.LoadAllEntities(cfg.DSLDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки DSL: %v", err)
	}
	reg := schema.NewRegistry(entities)
	fmt.Printf("Загружено сущностей: %d\n", reg.Len())

	if issues := reg.Lint(); len(issues) > 0 {
		for _, it := range issues {
			log.Printf("lint: %s.%s: %s (%s)", it.Entity, it.Field, it.Message, it.Code)
		}
		log.Fatalf("Схема не прошла линтер: %d проблем", len(issues))
	}

	// 2. Enum-справочники
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки enum-справочников: %v", err)
	}
	fmt.Printf("Загружено enum-справочников: %d\n", len(enums))

	// 3. Бэкенд хранилища
	var st engine.Adapter
	switch cfg.Backend {
	case "", "memory":
		st = memstore.New()
	case "sql":
		if cfg.DBURL == "" {
			log.Fatal("backend=sql требует db url (TEREM_DB_URL / -db)")
		}
		db, err := sqlstore.Open(cfg.DBURL)
		if err != nil {
			log.Fatalf("Ошибка подключения к Postgres: %v", err)
		}
		if cfg.AutoMigrate {
			ddl, err := sqlstore.GenerateDDL(reg)
			if err != nil {
				log.Fatalf("Ошибка генерации DDL: %v", err)
			}
			if err := sqlstore.ApplyDDL(db, ddl); err != nil {
				log.Fatalf("Ошибка применения DDL: %v", err)
			}
		}
		st = sqlstore.New(db)
	case "orm":
		if cfg.DBURL == "" {
			log.Fatal("backend=orm требует db url (TEREM_DB_URL / -db)")
		}
		gdb, err := ormstore.Open(cfg.DBURL)
		if err != nil {
			log.Fatalf("Ошибка подключения GORM: %v", err)
		}
		st = ormstore.New(gdb)
	default:
		log.Fatalf("Неизвестный backend: %q (memory/sql/orm)", cfg.Backend)
	}

	// 4. REST API сервер
	srv := api.NewServer(reg, st, enums)
	srv.DSLRoot = cfg.DSLDir
	srv.EnumsRoot = cfg.EnumsDir

	fmt.Printf("Стартуем сервер Terem на :%s (backend=%s)...\n", cfg.Port, cfg.Backend)
	if err := api.RunServer(":"+cfg.Port, srv); err != nil {
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}
}
