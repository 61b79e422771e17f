/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/aiulian25/soundwave/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "metrics:start_time"

// registrar matches gorm's callback registration surface.
type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks hooks query timing metrics into every CRUD path.
func RegisterCallbacks(db *gorm.DB) error {
	c := db.Callback()
	hooks := []struct {
		op            string
		before, after registrar
	}{
		{"query", c.Query().Before("gorm:query"), c.Query().After("gorm:query")},
		{"create", c.Create().Before("gorm:create"), c.Create().After("gorm:create")},
		{"update", c.Update().Before("gorm:update"), c.Update().After("gorm:update")},
		{"delete", c.Delete().Before("gorm:delete"), c.Delete().After("gorm:delete")},
	}

	for _, h := range hooks {
		if err := h.before.Register("metrics:before_"+h.op, markStart); err != nil {
			return err
		}
		if err := h.after.Register("metrics:after_"+h.op, observe(h.op)); err != nil {
			return err
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

// observe builds the after-callback recording duration and errors for one
// operation kind.
func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		// Not-found is an ordinary outcome, not a database failure.
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query").Inc()
		}
	}
}

// SamplePoolStats refreshes the connection pool gauge. The server calls
// it on a timer.
func SamplePoolStats(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
