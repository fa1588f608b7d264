package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
)

// Repo reads settings through the query runner.
type Repo struct {
	runner *database.Runner
}

// NewRepo constructs a new Repo on top of an existing runner.
func NewRepo(r *database.Runner) *Repo {
	return &Repo{runner: r}
}

// GetByName returns the setting called name or sql.ErrNoRows.
func (r *Repo) GetByName(ctx context.Context, name string) (*entity.Setting, error) {
	const q = `SELECT name, value FROM settings WHERE name = :name`
	res, err := r.runner.Select(ctx, q, []database.Params{{"name": database.String(name)}})
	if err != nil {
		return nil, err
	}
	if len(res[0]) == 0 {
		return nil, sql.ErrNoRows
	}
	return fromRow(res[0][0]), nil
}

// List returns every stored setting ordered by name.
func (r *Repo) List(ctx context.Context) ([]*entity.Setting, error) {
	rows, err := r.runner.RawQuery(ctx, `SELECT name, value FROM settings ORDER BY name`)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Setting, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func fromRow(row database.Row) *entity.Setting {
	return entity.NewSetting(fmt.Sprint(row["name"]), fmt.Sprint(row["value"]))
}
