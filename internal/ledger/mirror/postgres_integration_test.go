//go:build integration

package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"steward/pkg/testutil/containers"
)

func TestPostgresMirror(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	m := NewPostgres(pg.DB)
	if err := m.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	suite.Run(t, &mirrorContract{
		newMirror: func() Mirror {
			if err := pg.TruncateTables(ctx, "governance_records"); err != nil {
				t.Fatal(err)
			}
			return m
		},
		tamper: func(id string, content string) {
			if _, err := pg.DB.ExecContext(ctx, `UPDATE governance_records SET content = $1 WHERE record_id = $2`, content, id); err != nil {
				t.Fatal(err)
			}
		},
	})
}
