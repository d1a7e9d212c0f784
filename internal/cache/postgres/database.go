// Package postgres backs the cache with one gorm-managed table.
package postgres

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/internal/cache"
	"tradecore/pkg/conn"
)

type row struct {
	Kind      string    `gorm:"primaryKey;size:16"`
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:bytea;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (row) TableName() string { return "cache_records" }

func toRow(rec cache.Record, now time.Time) row {
	return row{Kind: rec.Kind.String(), Key: rec.Key, Value: rec.Value, UpdatedAt: now}
}

func fromRow(r row) (cache.Record, error) {
	kind, ok := cache.ParseRecordKind(r.Kind)
	if !ok {
		return cache.Record{}, errors.Errorf("record kind %q", r.Kind)
	}
	return cache.Record{Kind: kind, Key: r.Key, Value: r.Value}, nil
}

type Database struct {
	client *conn.Client
	db     *gorm.DB
}

var _ cache.Database = (*Database)(nil)

// New migrates the table on the client's connection.
func New(client *conn.Client) (*Database, error) {
	db := client.DB()
	if db == nil {
		return nil, errors.New("nil postgres client")
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, errors.Wrap(err, "migrate cache_records")
	}
	return &Database{client: client, db: db}, nil
}

func (d *Database) Load(ctx context.Context, kind cache.RecordKind) ([]cache.Record, error) {
	var rows []row
	if err := d.db.WithContext(ctx).Where("kind = ?", kind.String()).Order("key").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load %s", kind)
	}
	out := make([]cache.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *Database) Write(ctx context.Context, records []cache.Record) error {
	now := time.Now().UTC()
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if rec.Delete {
				if err := tx.Where("kind = ? AND key = ?", rec.Kind.String(), rec.Key).Delete(&row{}).Error; err != nil {
					return errors.Wrapf(err, "delete %s %s", rec.Kind, rec.Key)
				}
				continue
			}
			r := toRow(rec, now)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kind"}, {Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&r).Error
			if err != nil {
				return errors.Wrapf(err, "upsert %s %s", rec.Kind, rec.Key)
			}
		}
		return nil
	})
}

func (d *Database) Close() error {
	return d.client.Close()
}
