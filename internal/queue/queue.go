// Package queue implements the polling-leased work queue for asynchronous
// agents. Items move pending -> processing -> completed|failed and never back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentfloor/agentfloor/internal/metrics"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Defaults for Store.
const (
	DefaultLeaseTimeout   = 5 * time.Minute
	DefaultRetention      = 24 * time.Hour
	DefaultClaimBatchSize = 5
)

// TimeoutMessage is recorded on items whose lease expired.
const TimeoutMessage = "Processing timeout"

var (
	// ErrNotFound is returned when a queue item does not exist.
	ErrNotFound = errors.New("queue: item not found")
	// ErrNotProcessing is returned when a completion loses the
	// compare-and-set because the item is no longer processing.
	ErrNotProcessing = errors.New("queue: item is not processing")
)

// Store is the queue's persistence layer.
type Store struct {
	db           *gorm.DB
	leaseTimeout time.Duration
	retention    time.Duration
	batchSize    int
	now          func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB           *gorm.DB
	LeaseTimeout time.Duration    // defaults to DefaultLeaseTimeout
	Retention    time.Duration    // defaults to DefaultRetention
	BatchSize    int              // defaults to DefaultClaimBatchSize
	Now          func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("queue: db is required")
	}
	s := &Store{
		db:           opts.DB,
		leaseTimeout: opts.LeaseTimeout,
		retention:    opts.Retention,
		batchSize:    opts.BatchSize,
		now:          opts.Now,
	}
	if s.leaseTimeout <= 0 {
		s.leaseTimeout = DefaultLeaseTimeout
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultClaimBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// BatchSize returns the default claim limit.
func (s *Store) BatchSize() int { return s.batchSize }

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// EnqueueOpts describes a new queue item.
type EnqueueOpts struct {
	AgentID        string
	ConversationID string
	Content        string
	UserMessageID  string
}

// Enqueue creates a pending item addressed to one agent.
func (s *Store) Enqueue(ctx context.Context, opts EnqueueOpts) (*models.QueueItem, error) {
	if opts.AgentID == "" {
		return nil, fmt.Errorf("queue: agent id is required")
	}
	if opts.ConversationID == "" {
		return nil, fmt.Errorf("queue: conversation id is required")
	}
	item := &models.QueueItem{
		ID:             uuid.NewString(),
		AgentID:        opts.AgentID,
		ConversationID: opts.ConversationID,
		MessageContent: opts.Content,
		UserMessageID:  opts.UserMessageID,
		Status:         models.QueueStatusPending,
		CreatedAt:      s.clock(),
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	metrics.QueueEnqueued.Inc()
	return item, nil
}

// Get loads a queue item by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	return &item, nil
}

// ReclaimExpired fails processing items whose lease has run out and returns
// them. An empty agentID sweeps every agent.
func (s *Store) ReclaimExpired(ctx context.Context, agentID string) ([]models.QueueItem, error) {
	now := s.clock()
	cutoff := now.Add(-s.leaseTimeout)

	q := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status = ? AND processing_started_at < ?", models.QueueStatusProcessing, cutoff)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("queue: reclaim: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	res := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id IN ? AND status = ? AND processing_started_at < ?", ids, models.QueueStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        models.QueueStatusFailed,
			"error_message": TimeoutMessage,
			"completed_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("queue: reclaim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var reclaimed []models.QueueItem
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND status = ? AND completed_at = ?", ids, models.QueueStatusFailed, now).
		Order("created_at ASC").
		Find(&reclaimed).Error; err != nil {
		return nil, fmt.Errorf("queue: reclaim: reload: %w", err)
	}
	metrics.QueueReclaimed.Add(float64(len(reclaimed)))
	return reclaimed, nil
}

// PurgeTerminal deletes completed and failed items created before the
// retention window and returns how many were removed. An empty agentID
// purges for every agent.
func (s *Store) PurgeTerminal(ctx context.Context, agentID string) (int64, error) {
	cutoff := s.clock().Add(-s.retention)
	q := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{models.QueueStatusCompleted, models.QueueStatusFailed}, cutoff)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	res := q.Delete(&models.QueueItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("queue: purge: %w", res.Error)
	}
	metrics.QueuePurged.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}

// Claim moves up to limit of the agent's oldest pending items to processing
// and returns them. The transition is a single conditional UPDATE stamped
// with a fresh claim token, so concurrent callers never receive the same
// item. A limit of zero or less uses the store's batch size.
func (s *Store) Claim(ctx context.Context, agentID string, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("agent_id = ? AND status = ?", agentID, models.QueueStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("queue: claim: select: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	token := uuid.NewString()
	res := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id IN ? AND status = ?", ids, models.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":                models.QueueStatusProcessing,
			"processing_started_at": s.clock(),
			"claim_token":           token,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("queue: claim: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var claimed []models.QueueItem
	if err := s.db.WithContext(ctx).
		Where("claim_token = ?", token).
		Order("created_at ASC").
		Find(&claimed).Error; err != nil {
		return nil, fmt.Errorf("queue: claim: reload: %w", err)
	}
	metrics.QueueClaimed.Add(float64(len(claimed)))
	return claimed, nil
}

// CompleteTx marks a processing item owned by agentID as completed within
// tx. It returns ErrNotProcessing when no row changed.
func (s *Store) CompleteTx(tx *gorm.DB, id, agentID string) error {
	res := tx.Model(&models.QueueItem{}).
		Where("id = ? AND agent_id = ? AND status = ?", id, agentID, models.QueueStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.QueueStatusCompleted,
			"completed_at": s.clock(),
		})
	if res.Error != nil {
		return fmt.Errorf("queue: complete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotProcessing
	}
	return nil
}
