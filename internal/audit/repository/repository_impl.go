package repository

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() auditdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	var logs []*auditdomain.AuditLog
	stmt := db.WithContext(ctx).Model(&auditdomain.AuditLog{})

	if traceID := strings.TrimSpace(filter.TraceID); traceID != "" {
		stmt = stmt.Where("trace_id = ?", traceID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if resourceType := strings.TrimSpace(filter.ResourceType); resourceType != "" {
		stmt = stmt.Where("resource_type = ?", resourceType)
	}
	if filter.Since != nil {
		stmt = stmt.Where("created_at >= ?", filter.Since.UTC())
	}

	if filter.Ascending {
		stmt = stmt.Order("created_at asc, id asc")
	} else {
		stmt = stmt.Order("created_at desc, id desc")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) CountByAction(ctx context.Context, db *gorm.DB, since time.Time) ([]auditdomain.ActionCount, error) {
	var rows []auditdomain.ActionCount
	err := db.WithContext(ctx).Raw(
		`SELECT action, COUNT(*) AS count
		 FROM audit_logs
		 WHERE created_at >= ?
		 GROUP BY action
		 ORDER BY count DESC, action ASC`,
		since.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
