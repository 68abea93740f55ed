package bucket

import (
	"database/sql"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/repository/sqlstore"
)

// Table names used by the SQL backends.
const (
	BucketsTable = "buckets"
	ItemsTable   = "items"
)

type bucketMapper struct{}

func (bucketMapper) Columns() []string {
	return []string{"id", "name", "description", "size", "version", "created_at"}
}

func (bucketMapper) ToRow(b *Bucket) ([]string, []interface{}, error) {
	return []string{"id", "name", "description", "size", "version", "created_at"},
		[]interface{}{b.ID, b.Name, nullString(b.Description), b.Size, b.Version, b.CreatedAt.UTC()},
		nil
}

func (bucketMapper) FromRow(rows *sql.Rows) (*Bucket, error) {
	var (
		b           Bucket
		description sql.NullString
	)
	if err := rows.Scan(&b.ID, &b.Name, &description, &b.Size, &b.Version, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Description = stringPtr(description)
	return &b, nil
}

func (bucketMapper) GetID(b *Bucket) string { return b.ID }

type itemMapper struct{}

func (itemMapper) Columns() []string {
	return []string{"id", "bucket_id", "name", "description", "size", "version", "created_at"}
}

func (itemMapper) ToRow(i *Item) ([]string, []interface{}, error) {
	return []string{"id", "bucket_id", "name", "description", "size", "version", "created_at"},
		[]interface{}{i.ID, i.BucketID, i.Name, nullString(i.Description), i.Size, i.Version, i.CreatedAt.UTC()},
		nil
}

func (itemMapper) FromRow(rows *sql.Rows) (*Item, error) {
	var (
		i           Item
		description sql.NullString
	)
	if err := rows.Scan(&i.ID, &i.BucketID, &i.Name, &description, &i.Size, &i.Version, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Description = stringPtr(description)
	return &i, nil
}

func (itemMapper) GetID(i *Item) string { return i.ID }

// BucketTable describes the buckets table. Rows load in insertion order.
func BucketTable(dialect sqlstore.Dialect) sqlstore.Table[Bucket, string] {
	return sqlstore.Table[Bucket, string]{
		Name:          BucketsTable,
		IDColumn:      "id",
		OrderBy:       "seq",
		VersionColumn: "version",
		Mapper:        bucketMapper{},
		Dialect:       dialect,
	}
}

// ItemTable describes the items table. Rows load in insertion order.
func ItemTable(dialect sqlstore.Dialect) sqlstore.Table[Item, string] {
	return sqlstore.Table[Item, string]{
		Name:          ItemsTable,
		IDColumn:      "id",
		OrderBy:       "seq",
		VersionColumn: "version",
		Mapper:        itemMapper{},
		Dialect:       dialect,
	}
}

// Schema returns the DDL creating the bucket tables if they are missing.
// MySQL connections need parseTime=true to scan created_at.
func Schema(dialect sqlstore.Dialect) []string {
	seq, ts, text := "BIGSERIAL UNIQUE", "TIMESTAMPTZ", "TEXT"
	if dialect == sqlstore.MySQL {
		seq, ts, text = "BIGINT NOT NULL AUTO_INCREMENT UNIQUE", "DATETIME(6)", "VARCHAR(1024)"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq %s,
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	description %s NULL,
	size INTEGER NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at %s NOT NULL
)`, BucketsTable, seq, text, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq %s,
	id VARCHAR(64) PRIMARY KEY,
	bucket_id VARCHAR(64) NOT NULL,
	name VARCHAR(100) NOT NULL,
	description %s NULL,
	size INTEGER NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at %s NOT NULL
)`, ItemsTable, seq, text, ts),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
