/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository provides data access for update records.
// Repository 提供更新记录的数据访问。
// A nil *Repository is valid and records nothing.
// nil *Repository 是合法的，不记录任何内容。
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance.
// NewRepository 创建一个新的 Repository 实例。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a running record and fills its ID and start time.
// Create 插入一条运行中的记录并填充 ID 和开始时间。
func (r *Repository) Create(ctx context.Context, rec *UpdateRecord) error {
	if r == nil {
		return nil
	}
	if rec.ToVersion == "" {
		return ErrToVersionEmpty
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = StatusRunning
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// Finish marks a record as success or failed.
// Finish 将记录标记为成功或失败。
func (r *Repository) Finish(ctx context.Context, id string, status Status, cause error) error {
	if r == nil {
		return nil
	}
	if status != StatusSuccess && status != StatusFailed {
		return ErrInvalidStatus
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": &now,
		"error":       "",
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}

	result := r.db.WithContext(ctx).Model(&UpdateRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Get retrieves a record by ID
// Get 通过 ID 获取记录
func (r *Repository) Get(ctx context.Context, id string) (*UpdateRecord, error) {
	if r == nil {
		return nil, ErrRecordNotFound
	}
	var rec UpdateRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
// List 返回最多 limit 条记录，按时间倒序；非正 limit 返回全部。
func (r *Repository) List(ctx context.Context, limit int) ([]*UpdateRecord, error) {
	if r == nil {
		return []*UpdateRecord{}, nil
	}
	var recs []*UpdateRecord
	query := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Latest returns the most recent record
// Latest 返回最新的记录
func (r *Repository) Latest(ctx context.Context) (*UpdateRecord, error) {
	recs, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return recs[0], nil
}
