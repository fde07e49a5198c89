package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON document, its track as a list of
// JSON samples and, per user, a sorted set of finished session ids scored by
// end time.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func sessionKey(id string) string { return "run:session:" + id }

func trackKey(id string) string { return "run:track:" + id }

func historyKey(userID string) string { return "run:history:" + userID }

func (s *RedisStore) Create(ctx context.Context, session Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return err
	}
	created, err := s.rdb.SetNX(ctx, sessionKey(session.ID), doc, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("run session %s already exists", session.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	return getSession(ctx, s.rdb, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getSession(ctx context.Context, c getter, id string) (Session, error) {
	doc, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(doc, &session); err != nil {
		return Session{}, fmt.Errorf("decode run session %s: %w", id, err)
	}
	return session, nil
}

func (s *RedisStore) Append(ctx context.Context, session Session, sample GeoSample) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return err
	}
	point, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.guarded(ctx, session.ID, func(stored Session) bool { return canAppend(stored, session) },
		func(pipe redis.Pipeliner) {
			pipe.RPush(ctx, trackKey(session.ID), point)
			pipe.Set(ctx, sessionKey(session.ID), doc, 0)
		})
}

func (s *RedisStore) Finish(ctx context.Context, session Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.guarded(ctx, session.ID, func(stored Session) bool { return canFinish(stored, session) },
		func(pipe redis.Pipeliner) {
			pipe.Set(ctx, sessionKey(session.ID), doc, 0)
			pipe.ZAdd(ctx, historyKey(session.UserID), redis.Z{
				Score:  float64(session.finishedAt().UnixMilli()),
				Member: session.ID,
			})
		})
}

// guarded runs writes in MULTI/EXEC while watching the session key, so a
// write from another process between the check and EXEC aborts it.
func (s *RedisStore) guarded(ctx context.Context, id string, ok func(stored Session) bool, writes func(pipe redis.Pipeliner)) error {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok(stored) {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writes(pipe)
			return nil
		})
		return err
	}, sessionKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *RedisStore) History(ctx context.Context, userID string, limit int) ([]Session, error) {
	ids, err := s.rdb.ZRevRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	docs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(docs))
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue
		}
		var session Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode run session %s: %w", ids[i], err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisStore) Positions(ctx context.Context, id string) ([]GeoSample, error) {
	raw, err := s.rdb.LRange(ctx, trackKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	track := make([]GeoSample, 0, len(raw))
	for _, item := range raw {
		var sample GeoSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			return nil, fmt.Errorf("decode run position: %w", err)
		}
		track = append(track, sample)
	}
	return track, nil
}
