package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/cloudsidekick/cato/engine/connection"
)

// ErrAssetNotFound is returned when no asset row matches the lookup.
var ErrAssetNotFound = errors.New("asset not found")

// AssetRepo is a read-only view over the asset registry; the engine consumes
// assets, it never manages them.
type AssetRepo struct {
	db DBInterface
}

func NewAssetRepo(db DBInterface) *AssetRepo {
	return &AssetRepo{db: db}
}

type assetRow struct {
	AssetID    string  `db:"asset_id"`
	AssetName  string  `db:"asset_name"`
	Address    string  `db:"address"`
	Port       *string `db:"port"`
	DBName     *string `db:"db_name"`
	UserID     *string `db:"userid"`
	Password   *string `db:"password"`
	PrivateKey *string `db:"private_key"`
	Passphrase *string `db:"passphrase"`
	Domain     *string `db:"domain"`
}

// GetSystem resolves an asset by id or by name into connection parameters.
func (r *AssetRepo) GetSystem(ctx context.Context, idOrName string) (*connection.System, error) {
	sql, args, err := squirrel.
		Select("asset_id", "asset_name", "address", "port", "db_name",
			"userid", "password", "private_key", "passphrase", "domain").
		From("asset").
		Where(squirrel.Or{
			squirrel.Eq{"asset_id": idOrName},
			squirrel.Eq{"asset_name": idOrName},
		}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building asset query: %w", err)
	}
	var row assetRow
	err = withReconnect(ctx, func() error {
		return pgxscan.Get(ctx, r.db, &row, sql, args...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset [%s]: %w", idOrName, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("scanning asset: %w", err)
	}
	sys := &connection.System{
		Name:    row.AssetName,
		Address: row.Address,
	}
	if row.Port != nil {
		sys.Port = *row.Port
	}
	if row.DBName != nil {
		sys.DBName = *row.DBName
	}
	if row.UserID != nil {
		sys.User = *row.UserID
	}
	if row.Password != nil {
		sys.Password = *row.Password
	}
	if row.PrivateKey != nil {
		sys.PrivateKey = *row.PrivateKey
	}
	if row.Passphrase != nil {
		sys.Passphrase = *row.Passphrase
	}
	if row.Domain != nil {
		sys.Domain = *row.Domain
	}
	return sys, nil
}
