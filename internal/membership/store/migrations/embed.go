package migrations

import "embed"

// FS contains the embedded Postgres migrations for the membership ledger.
//
//go:embed *.sql
var FS embed.FS
