package sink

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

// ArchivedEvent is one row of the relay event archive.
type ArchivedEvent struct {
	ID         uint      `gorm:"primaryKey"`
	Type       string    `gorm:"size:32;index"`
	RoomID     string    `gorm:"size:255;index"`
	Payload    string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (ArchivedEvent) TableName() string {
	return "relay_events"
}

// ArchiveSink appends events to a SQL table.
type ArchiveSink struct {
	db *gorm.DB
}

// NewArchiveSink migrates the archive table and returns the sink.
func NewArchiveSink(db *gorm.DB) (*ArchiveSink, error) {
	if err := database.AutoMigrate(db, &ArchivedEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return &ArchiveSink{db: db}, nil
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Publish(ctx context.Context, event *pubsub.Event) error {
	row := &ArchivedEvent{
		Type:       event.Type,
		RoomID:     event.RoomID,
		Payload:    string(event.Payload),
		OccurredAt: event.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}
	return nil
}

func (s *ArchiveSink) Close() error {
	return database.Close(s.db)
}
