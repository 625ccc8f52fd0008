package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port     string `json:"port"`
	DSLDir   string `json:"dslDir"`
	EnumsDir string `json:"enumsDir"`

	// Backend: "memory" (default) | "sql" | "orm"
	Backend string `json:"backend"`
	DBURL   string `json:"dbUrl"`

	// sql-бэкенд: генерировать и применять DDL при старте
	AutoMigrate bool `json:"autoMigrate"`
}

func def() Config {
	return Config{
		Port:        "8080",
		DSLDir:      "dsl",
		EnumsDir:    "reference/enums",
		Backend:     "memory",
		DBURL:       "",
		AutoMigrate: false,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги.
// Флаг -config указывает другой JSON: он разбирается до остальных флагов,
// поэтому перечитывание не требует повторной регистрации FlagSet.
func LoadWithPath(jsonPath string) Config {
	return load(jsonPath, os.Args[1:])
}

func load(jsonPath string, argv []string) Config {
	if p := configArg(argv); p != "" {
		jsonPath = p
	}

	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("TEREM_PORT", cfg.Port)
	cfg.DSLDir = getenv("TEREM_DSL_DIR", cfg.DSLDir)
	cfg.EnumsDir = getenv("TEREM_ENUMS_DIR", cfg.EnumsDir)
	cfg.Backend = getenv("TEREM_BACKEND", cfg.Backend)
	cfg.DBURL = getenv("TEREM_DB_URL", cfg.DBURL)
	cfg.AutoMigrate = getenvBool("TEREM_AUTO_MIGRATE", cfg.AutoMigrate)

	// Flags overrides: локальный FlagSet, повторный вызов не падает
	// на "flag redefined"
	fs := flag.NewFlagSet("terem", flag.ExitOnError)
	fs.String("config", jsonPath, "Path to config JSON")
	port := fs.String("port", cfg.Port, "HTTP port")
	dslDir := fs.String("dsl", cfg.DSLDir, "Path to DSL directory")
	enums := fs.String("enums", cfg.EnumsDir, "Path to enums directory")
	backend := fs.String("backend", cfg.Backend, "Storage backend (memory/sql/orm)")
	db := fs.String("db", cfg.DBURL, "Postgres URL (required for sql/orm)")
	auto := fs.Bool("auto-migrate", cfg.AutoMigrate, "Apply generated DDL on start (sql backend)")

	_ = fs.Parse(argv)

	cfg.Port = strings.TrimSpace(*port)
	cfg.DSLDir = strings.TrimSpace(*dslDir)
	cfg.EnumsDir = strings.TrimSpace(*enums)
	cfg.Backend = strings.ToLower(strings.TrimSpace(*backend))
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.AutoMigrate = *auto

	return cfg
}

// configArg достаёт значение -config из argv до полного разбора флагов
func configArg(argv []string) string {
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name := strings.TrimLeft(a, "-")
		if name == "config" {
			if i+1 < len(argv) {
				return strings.TrimSpace(argv[i+1])
			}
			return ""
		}
		if strings.HasPrefix(name, "config=") {
			return strings.TrimSpace(strings.TrimPrefix(name, "config="))
		}
	}
	return ""
}
