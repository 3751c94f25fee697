package jobstore

import (
	"embed"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns every statement from migrations/*.sql, file
// names sorted lexicographically (the "NNNN_name.sql" numbering
// scheme) and each file split on its statement-terminating
// semicolons, ready to pass to Migrate. Grounded on
// Outblock-flowindex/flowscan-clone's Migrate(schemaPath) pattern,
// adapted from a single external schema file to Go's embed so
// cmd/apiserver and cmd/worker ship migrations inside the binary.
func Migrations() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var statements []string
	for _, name := range names {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				statements = append(statements, stmt)
			}
		}
	}
	return statements, nil
}
