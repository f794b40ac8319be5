package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"realtime-service/internal/domain"
)

// PresenceStore is the shared key/value surface holding presence and typing
// state. Every key self-expires; callers treat all errors as best-effort.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, record domain.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error)
	DeletePresence(ctx context.Context, userID string) error

	AddWorkspaceMember(ctx context.Context, workspaceID string, member domain.WorkspaceMember) error
	RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error
	UpdateWorkspaceMemberStatus(ctx context.Context, workspaceID, userID string, status domain.PresenceStatus) error
	GetWorkspaceMembers(ctx context.Context, workspaceID string) ([]domain.WorkspaceMember, error)

	SetTyping(ctx context.Context, workspaceID, conversationID string, entry domain.TypingEntry) error
	ClearTyping(ctx context.Context, workspaceID, conversationID, userID string) error
	GetTyping(ctx context.Context, workspaceID, conversationID string) ([]domain.TypingEntry, error)

	Ping(ctx context.Context) error
}

type RedisPresenceStore struct {
	rdb       *redis.Client
	ttl       time.Duration
	typingTTL time.Duration
}

func NewRedisPresenceStore(rdb *redis.Client, ttl, typingTTL time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb:       rdb,
		ttl:       ttl,
		typingTTL: typingTTL,
	}
}

// keys:
//
//	presence:user:{userId}                      JSON PresenceRecord (EX ttl)
//	presence:workspace:{workspaceId}            hash userId -> JSON WorkspaceMember (EXPIRE ttl)
//	typing:{workspaceId}:{conversationId}:{uid} JSON TypingEntry (EX typingTTL)
func presenceKey(userID string) string {
	return "presence:user:" + userID
}

func workspaceKey(workspaceID string) string {
	return "presence:workspace:" + workspaceID
}

func typingPrefix(workspaceID, conversationID string) string {
	return fmt.Sprintf("typing:%s:%s:", workspaceID, conversationID)
}

func (s *RedisPresenceStore) SetPresence(ctx context.Context, userID string, record domain.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, presenceKey(userID), data, s.ttl).Err()
}

// GetPresence returns nil without error when the record is absent or expired.
func (s *RedisPresenceStore) GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	data, err := s.rdb.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record domain.PresenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode presence record: %w", err)
	}
	return &record, nil
}

func (s *RedisPresenceStore) DeletePresence(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, presenceKey(userID)).Err()
}

func (s *RedisPresenceStore) AddWorkspaceMember(ctx context.Context, workspaceID string, member domain.WorkspaceMember) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}

	key := workspaceKey(workspaceID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, member.UserID, data)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisPresenceStore) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	return s.rdb.HDel(ctx, workspaceKey(workspaceID), userID).Err()
}

// UpdateWorkspaceMemberStatus rewrites the member entry if it exists.
func (s *RedisPresenceStore) UpdateWorkspaceMemberStatus(ctx context.Context, workspaceID, userID string, status domain.PresenceStatus) error {
	key := workspaceKey(workspaceID)
	data, err := s.rdb.HGet(ctx, key, userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var member domain.WorkspaceMember
	if err := json.Unmarshal(data, &member); err != nil {
		return fmt.Errorf("failed to decode workspace member: %w", err)
	}
	member.Status = status
	return s.AddWorkspaceMember(ctx, workspaceID, member)
}

// GetWorkspaceMembers returns the workspace member map ordered by join time.
// Members whose presence record has expired are pruned from the map, so an
// entry never outlives its owner's presence by more than the TTL.
func (s *RedisPresenceStore) GetWorkspaceMembers(ctx context.Context, workspaceID string) ([]domain.WorkspaceMember, error) {
	key := workspaceKey(workspaceID)
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []domain.WorkspaceMember{}, nil
	}

	members := make([]domain.WorkspaceMember, 0, len(raw))
	for userID, data := range raw {
		var member domain.WorkspaceMember
		if err := json.Unmarshal([]byte(data), &member); err != nil {
			continue
		}
		member.UserID = userID
		members = append(members, member)
	}

	pipe := s.rdb.Pipeline()
	records := make([]*redis.StringCmd, len(members))
	for i, member := range members {
		records[i] = pipe.Get(ctx, presenceKey(member.UserID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	live := members[:0]
	var stale []string
	for i, member := range members {
		data, err := records[i].Bytes()
		if err != nil {
			stale = append(stale, member.UserID)
			continue
		}
		var record domain.PresenceRecord
		if json.Unmarshal(data, &record) == nil && record.Status != "" {
			member.Status = record.Status
		}
		live = append(live, member)
	}

	if len(stale) > 0 {
		fields := make([]string, len(stale))
		copy(fields, stale)
		_ = s.rdb.HDel(ctx, key, fields...).Err()
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].JoinedAt.Equal(live[j].JoinedAt) {
			return live[i].UserID < live[j].UserID
		}
		return live[i].JoinedAt.Before(live[j].JoinedAt)
	})
	return live, nil
}

func (s *RedisPresenceStore) SetTyping(ctx context.Context, workspaceID, conversationID string, entry domain.TypingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, typingPrefix(workspaceID, conversationID)+entry.UserID, data, s.typingTTL).Err()
}

func (s *RedisPresenceStore) ClearTyping(ctx context.Context, workspaceID, conversationID, userID string) error {
	return s.rdb.Del(ctx, typingPrefix(workspaceID, conversationID)+userID).Err()
}

func (s *RedisPresenceStore) GetTyping(ctx context.Context, workspaceID, conversationID string) ([]domain.TypingEntry, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, typingPrefix(workspaceID, conversationID)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	entries := make([]domain.TypingEntry, 0, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var entry domain.TypingEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	return entries, nil
}

func (s *RedisPresenceStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
