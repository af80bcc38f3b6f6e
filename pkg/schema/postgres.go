package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgColumn struct {
	Table  string
	Column string
}

type pgForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// IntrospectPostgres builds a Schema from the foreign-key graph of one
// database schema. Columns become attributes, each foreign key becomes
// a to-one edge plus its to-many reverse, and a table consisting solely
// of two foreign keys is treated as an association table producing
// many-to-many edges on both sides.
func IntrospectPostgres(ctx context.Context, db pgQuerier, schemaName string) (*Schema, error) {
	if strings.TrimSpace(schemaName) == "" {
		schemaName = "public"
	}
	cols, err := fetchColumns(ctx, db, schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	fks, err := fetchForeignKeys(ctx, db, schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	return assemble(cols, fks)
}

func fetchColumns(ctx context.Context, db pgQuerier, schemaName string) ([]pgColumn, error) {
	rows, err := db.Query(ctx, `
		SELECT c.table_name, c.column_name
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position
	`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pgColumn
	for rows.Next() {
		var col pgColumn
		if err := rows.Scan(&col.Table, &col.Column); err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

func fetchForeignKeys(ctx context.Context, db pgQuerier, schemaName string) ([]pgForeignKey, error) {
	rows, err := db.Query(ctx, `
		SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		ORDER BY tc.table_name, kcu.column_name
	`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pgForeignKey
	for rows.Next() {
		var fk pgForeignKey
		if err := rows.Scan(&fk.Table, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// assemble is the pure half of introspection, split out so the
// classification rules are testable without a database.
func assemble(cols []pgColumn, fks []pgForeignKey) (*Schema, error) {
	tableCols := map[string][]string{}
	for _, c := range cols {
		tableCols[c.Table] = append(tableCols[c.Table], c.Column)
	}
	tableFKs := map[string][]pgForeignKey{}
	for _, fk := range fks {
		tableFKs[fk.Table] = append(tableFKs[fk.Table], fk)
	}

	joinTables := map[string]bool{}
	for table, columns := range tableCols {
		joinTables[table] = isJoinTable(columns, tableFKs[table])
	}

	s := New()
	for table, columns := range tableCols {
		if joinTables[table] {
			continue
		}
		attrs := make(map[string]string, len(columns))
		for _, c := range columns {
			attrs[c] = c
		}
		rt := ResourceType{
			Name:          table,
			Table:         table,
			Attributes:    attrs,
			Relationships: map[string]Relationship{},
		}

		// To-one edges from this table's own foreign keys.
		for _, fk := range tableFKs[table] {
			name := toOneName(fk.Column, fk.RefTable)
			addRelationship(&rt, Relationship{
				Name:         name,
				Target:       fk.RefTable,
				Cardinality:  ToOne,
				LocalColumn:  fk.Column,
				RemoteColumn: fk.RefColumn,
			})
		}

		// Reverse edges: other tables pointing at this one.
		for _, fk := range fks {
			if fk.RefTable != table || fk.Table == table {
				continue
			}
			if joinTables[fk.Table] {
				continue
			}
			addRelationship(&rt, Relationship{
				Name:         fk.Table,
				Target:       fk.Table,
				Cardinality:  ToMany,
				LocalColumn:  fk.RefColumn,
				RemoteColumn: fk.Column,
			})
		}

		// Many-to-many edges through association tables.
		for joinTable, isJoin := range joinTables {
			if !isJoin {
				continue
			}
			jfks := tableFKs[joinTable]
			var here, there *pgForeignKey
			for i := range jfks {
				if jfks[i].RefTable == table && here == nil {
					here = &jfks[i]
				} else if there == nil || jfks[i].RefTable != table {
					there = &jfks[i]
				}
			}
			if here == nil || there == nil {
				continue
			}
			addRelationship(&rt, Relationship{
				Name:             there.RefTable,
				Target:           there.RefTable,
				Cardinality:      ToMany,
				LocalColumn:      here.RefColumn,
				RemoteColumn:     there.RefColumn,
				JoinTable:        joinTable,
				JoinLocalColumn:  here.Column,
				JoinRemoteColumn: there.Column,
			})
		}

		if err := s.AddResource(rt); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// isJoinTable reports whether every column participates in one of
// exactly two foreign keys, the classic shape of an association table.
func isJoinTable(columns []string, fks []pgForeignKey) bool {
	if len(fks) != 2 {
		return false
	}
	fkCols := map[string]bool{}
	for _, fk := range fks {
		fkCols[fk.Column] = true
	}
	for _, c := range columns {
		if !fkCols[c] {
			return false
		}
	}
	return true
}

func toOneName(column, refTable string) string {
	if name := strings.TrimSuffix(column, "_id"); name != column && name != "" {
		return name
	}
	return refTable
}

func addRelationship(rt *ResourceType, rel Relationship) {
	if _, exists := rt.Relationships[rel.Name]; exists {
		return
	}
	rt.Relationships[rel.Name] = rel
}
