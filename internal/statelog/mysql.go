package statelog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// eventRecord is the GORM model backing the audit_events table,
// mirroring the shape of ChoSanghyuk-blackholedex's AssetSnapshotRecord.
type eventRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	At        time.Time `gorm:"index;not null"`
	Kind      string    `gorm:"type:varchar(32);index;not null"`
	Symbol    string    `gorm:"type:varchar(32);index"`
	Detail    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (eventRecord) TableName() string { return "audit_events" }

// MySQLSink persists Events to MySQL via GORM.
type MySQLSink struct {
	db *gorm.DB
}

// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLSink(dsn string) (*MySQLSink, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("statelog: connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("statelog: migrate mysql: %w", err)
	}
	return &MySQLSink{db: db}, nil
}

func (s *MySQLSink) Record(ctx context.Context, evt Event) error {
	row := eventRecord{At: evt.At, Kind: evt.Kind, Symbol: evt.Symbol, Detail: evt.Detail}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *MySQLSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
