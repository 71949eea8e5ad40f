// Package sql opens database handles whose queries are traced, so their
// time shows up in the profiler under the database system's name.
package sql

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Open opens a traced handle. system is the db.system attribute value, e.g.
// "sqlite".
func Open(driverName, dataSourceName, system string, tp trace.TracerProvider) (*sql.DB, error) {
	db, err := otelsql.Open(driverName, dataSourceName,
		otelsql.WithTracerProvider(tp),
		otelsql.WithAttributes(semconv.DBSystemKey.String(system)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	return db, nil
}
