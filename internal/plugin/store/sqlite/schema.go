package sqlite

import _ "embed"

//go:embed db/schema.sql
var schemaSQL string
