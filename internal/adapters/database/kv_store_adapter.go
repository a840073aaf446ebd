package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/clients/postgres"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

const kvTable = "client_kv"

const createKVTable = `CREATE TABLE IF NOT EXISTS client_kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, key)
)`

// KVStoreAdapter implements KeyValueStore on a Postgres table
type KVStoreAdapter struct {
	client    *postgres.Client
	db        *goqu.Database
	namespace string
}

// NewKVStoreAdapter creates a new Postgres-backed key-value store
func NewKVStoreAdapter(client *postgres.Client, namespace string) *KVStoreAdapter {
	return &KVStoreAdapter{
		client:    client,
		db:        goqu.New("postgres", client.DB()),
		namespace: namespace,
	}
}

var _ providers.KeyValueStore = (*KVStoreAdapter)(nil)

// EnsureSchema creates the backing table when missing
func (a *KVStoreAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.client.DB().ExecContext(ctx, createKVTable); err != nil {
		return apperrors.NewInternalError("failed to create client_kv table", err)
	}
	return nil
}

// Get retrieves a value
func (a *KVStoreAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	query, args, err := a.db.From(kvTable).
		Select("value").
		Where(goqu.Ex{"namespace": a.namespace, "key": key}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build kv select query", err)
	}

	var value []byte
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("key not found: " + key)
		}
		return nil, apperrors.NewInternalError("failed to read "+key, err)
	}
	return value, nil
}

// Set upserts a value
func (a *KVStoreAdapter) Set(ctx context.Context, key string, value []byte) error {
	record := goqu.Record{
		"namespace":  a.namespace,
		"key":        key,
		"value":      value,
		"updated_at": goqu.L("NOW()"),
	}

	query, args, err := a.db.Insert(kvTable).
		Rows(record).
		OnConflict(goqu.DoUpdate("namespace, key", goqu.Record{
			"value":      goqu.L("EXCLUDED.value"),
			"updated_at": goqu.L("NOW()"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build kv upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to write "+key, err)
	}
	return nil
}

// Delete removes a value
func (a *KVStoreAdapter) Delete(ctx context.Context, key string) error {
	query, args, err := a.db.Delete(kvTable).
		Where(goqu.Ex{"namespace": a.namespace, "key": key}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build kv delete query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to delete "+key, err)
	}
	return nil
}
