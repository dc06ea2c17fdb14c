package docstore

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

type migration struct {
	Version string
	SQL     string
}

func loadMigrations(dialect string) ([]migration, error) {
	files, err := fs.Glob(migrationFS, fmt.Sprintf("migrations/%s/*.sql", dialect))
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	out := make([]migration, 0, len(files))
	for _, file := range files {
		b, err := migrationFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		out = append(out, migration{Version: filepath.Base(file), SQL: string(b)})
	}
	return out, nil
}
