package core

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/gob"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "portal:session:"

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisStore is a gorilla sessions.Store that keeps values in Redis and only
// a signed session ID in the cookie.
type RedisStore struct {
	client *redis.Client
	codecs []securecookie.Codec
	prefix string
}

// NewRedisStore signs session IDs with keyPairs (hash key, optional block key, ...).
func NewRedisStore(client *redis.Client, keyPairs ...[]byte) *RedisStore {
	return &RedisStore{
		client: client,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		prefix: sessionKeyPrefix,
	}
}

// Get returns the session cached in the request registry or loads it.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie. A missing cookie or an
// expired Redis entry yields a new empty session.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	session.Options = &sessions.Options{Path: "/", MaxAge: sessionMaxAge, HttpOnly: true}
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.codecs...); err != nil {
		return session, err
	}
	values, found, err := s.load(r.Context(), id)
	if err != nil {
		return session, err
	}
	if found {
		session.ID = id
		session.Values = values
		session.IsNew = false
	}
	return session, nil
}

// Save writes values to Redis and the signed ID to the cookie. MaxAge < 0
// deletes both.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options == nil {
		session.Options = &sessions.Options{Path: "/", MaxAge: sessionMaxAge, HttpOnly: true}
	}
	ctx := r.Context()
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.client.Del(ctx, s.key(session.ID)).Err(); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}
	if err := s.store(ctx, session); err != nil {
		return err
	}
	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Rotate drops the stored values of session and clears its ID, so the next
// Save issues a new one.
func (s *RedisStore) Rotate(r *http.Request, session *sessions.Session) error {
	if session.ID == "" {
		return nil
	}
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	if err := s.client.Del(ctx, s.key(session.ID)).Err(); err != nil {
		return err
	}
	session.ID = ""
	session.IsNew = true
	return nil
}

// Count returns the number of live sessions.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	n := 0
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) store(ctx context.Context, session *sessions.Session) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(session.Values); err != nil {
		return err
	}
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if ttl == 0 {
		ttl = sessionMaxAge * time.Second
	}
	return s.client.Set(ctx, s.key(session.ID), buf.Bytes(), ttl).Err()
}

func (s *RedisStore) load(ctx context.Context, id string) (map[interface{}]interface{}, bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	values := map[interface{}]interface{}{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, false, err
	}
	return values, true, nil
}
