// Package follow maintains a per-user follow set in the shared cache alongside
// the authoritative follow edges in the persistent store, and answers
// common-follow queries by set intersection.
package follow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
)

// KeyPrefix prefixes every follow set key.
const KeyPrefix = "follows:"

// ErrSelfFollow is returned when a user tries to follow themselves.
var ErrSelfFollow = errors.New("a user cannot follow themselves")

// EdgeStore is the source of truth for follow edges.
type EdgeStore interface {
	Insert(ctx context.Context, edge types.FollowEdge) error
	// Delete removes the edge and reports whether a row was removed.
	Delete(ctx context.Context, userID, followUserID int64) (bool, error)
	Exists(ctx context.Context, userID, followUserID int64) (bool, error)
}

// ProfileLister resolves user ids to users. Missing ids are left out.
type ProfileLister interface {
	ListByIDs(ctx context.Context, ids []int64) ([]types.User, error)
}

// Key returns the follow set key of userID.
func Key(userID int64) string {
	return KeyPrefix + strconv.FormatInt(userID, 10)
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher announces every successful follow and unfollow.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service applies follow changes store-first and mirrors them into the cache.
type Service struct {
	kv        kvcache.KeyValueCache
	edges     EdgeStore
	users     ProfileLister
	publisher EventPublisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates a follow Service.
func NewService(kv kvcache.KeyValueCache, edges EdgeStore, users ProfileLister, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if kv == nil || edges == nil || users == nil {
		return nil, errors.New("key-value cache, edge store and profile lister cannot be nil")
	}
	s := &Service{
		kv:     kv,
		edges:  edges,
		users:  users,
		now:    time.Now,
		logger: logger.With().Str("component", "FollowSetCache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validate(userID, targetID int64) error {
	if userID <= 0 || targetID <= 0 {
		return fmt.Errorf("user ids must be positive, got %d and %d", userID, targetID)
	}
	if userID == targetID {
		return ErrSelfFollow
	}
	return nil
}

// Follow records that userID follows targetID.
func (s *Service) Follow(ctx context.Context, userID, targetID int64) error {
	if err := validate(userID, targetID); err != nil {
		return err
	}
	if err := s.edges.Insert(ctx, types.FollowEdge{UserID: userID, FollowUserID: targetID}); err != nil {
		return fmt.Errorf("failed to store follow %d->%d: %w", userID, targetID, err)
	}

	key := Key(userID)
	if err := s.kv.SAdd(ctx, key, strconv.FormatInt(targetID, 10)); err != nil {
		s.logger.Error().Err(err).Str("key", key).Int64("target_id", targetID).Msg("Follow stored but cache set not updated.")
	}
	s.publish(ctx, userID, targetID, ActionFollow)
	return nil
}

// Unfollow removes the edge userID -> targetID. Removing an edge that does not
// exist is not an error.
func (s *Service) Unfollow(ctx context.Context, userID, targetID int64) error {
	if err := validate(userID, targetID); err != nil {
		return err
	}
	removed, err := s.edges.Delete(ctx, userID, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete follow %d->%d: %w", userID, targetID, err)
	}
	if !removed {
		return nil
	}

	key := Key(userID)
	if err := s.kv.SRem(ctx, key, strconv.FormatInt(targetID, 10)); err != nil {
		s.logger.Error().Err(err).Str("key", key).Int64("target_id", targetID).Msg("Unfollow stored but cache set not updated.")
	}
	s.publish(ctx, userID, targetID, ActionUnfollow)
	return nil
}

// IsFollowing asks the store whether userID follows targetID.
func (s *Service) IsFollowing(ctx context.Context, userID, targetID int64) (bool, error) {
	ok, err := s.edges.Exists(ctx, userID, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to check follow %d->%d: %w", userID, targetID, err)
	}
	return ok, nil
}

// CommonFollows returns the profiles both users follow, ordered by id.
func (s *Service) CommonFollows(ctx context.Context, userA, userB int64) ([]types.UserProfile, error) {
	members, err := s.kv.SInter(ctx, Key(userA), Key(userB))
	if err != nil {
		return nil, fmt.Errorf("failed to intersect follow sets of %d and %d: %w", userA, userB, err)
	}
	if len(members) == 0 {
		return []types.UserProfile{}, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.Warn().Str("member", m).Msg("Skipping non-numeric follow set member.")
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []types.UserProfile{}, nil
	}

	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %d common follows: %w", len(ids), err)
	}
	profiles := make([]types.UserProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, types.NewUserProfile(u))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

func (s *Service) publish(ctx context.Context, userID, targetID int64, action Action) {
	if s.publisher == nil {
		return
	}
	event := Event{UserID: userID, FollowUserID: targetID, Action: action, At: s.now().UTC()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Int64("target_id", targetID).Str("action", string(action)).Msg("Failed to publish follow event.")
	}
}
