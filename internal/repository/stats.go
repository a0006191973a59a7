package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whatsapp-broker/internal/models"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// StatsRepository runs aggregate queries over messages with sqlx on the
// connection pool GORM already owns.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository wraps the GORM pool. driverName is "postgres" for
// $n placeholders; anything else uses ?.
func NewStatsRepository(gdb *gorm.DB, driverName string) (*StatsRepository, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB for statistics: %w", err)
	}
	if driverName != "postgres" {
		driverName = "sqlite3"
	}
	return &StatsRepository{db: sqlx.NewDb(sqlDB, driverName)}, nil
}

// MessageStats summarizes message traffic.
type MessageStats struct {
	Total    int64                          `json:"total"`
	Inbound  int64                          `json:"inbound"`
	Outbound int64                          `json:"outbound"`
	ByType   map[models.MessageType]int64   `json:"byType"`
	ByStatus map[models.MessageStatus]int64 `json:"byStatus"`
}

// StatsFilter narrows the statistics. Zero values mean unbounded.
type StatsFilter struct {
	ConversationID uint
	Since          time.Time
	Until          time.Time
}

type statsRow struct {
	Direction models.Direction     `db:"direction"`
	Type      models.MessageType   `db:"type"`
	Status    models.MessageStatus `db:"status"`
	Total     int64                `db:"total"`
}

func (r *StatsRepository) MessageStats(ctx context.Context, f StatsFilter) (*MessageStats, error) {
	var (
		where []string
		args  []any
	)
	if f.ConversationID != 0 {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Until.UTC())
	}

	query := "SELECT direction, type, status, COUNT(*) AS total FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY direction, type, status"

	var rows []statsRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("message statistics: %w", err)
	}

	stats := &MessageStats{
		ByType:   map[models.MessageType]int64{},
		ByStatus: map[models.MessageStatus]int64{},
	}
	for _, row := range rows {
		stats.Total += row.Total
		switch row.Direction {
		case models.DirectionInbound:
			stats.Inbound += row.Total
		case models.DirectionOutbound:
			stats.Outbound += row.Total
		}
		stats.ByType[row.Type] += row.Total
		stats.ByStatus[row.Status] += row.Total
	}
	return stats, nil
}
