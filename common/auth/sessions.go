package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultTokenTTL = 6 * time.Hour

const redisKeyPrefix = "session:"

// RedisSessionStore issues opaque tokens and keeps the user behind each one in
// Redis until it expires.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func CreateRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) AddUser(ctx context.Context, user *User) (string, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	if err := s.client.Set(ctx, redisKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisSessionStore) GetUser(ctx context.Context, token string) *User {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}

	data, err := s.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Err(err).Msg("Error reading session from redis")
		}
		return nil
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		log.Err(err).Msg("Corrupt session in redis")
		return nil
	}
	return &user
}

type Claims struct {
	Username string   `json:"username"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// JWTSessionStore is stateless: the user travels inside an HS256 token.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func CreateJWTSessionStore(secret string, ttl time.Duration) *JWTSessionStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTSessionStore{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *JWTSessionStore) AddUser(ctx context.Context, user *User) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: user.Username,
		Name:     user.Name,
		Email:    user.Email,
		Groups:   user.Groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.Uid),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTSessionStore) GetUser(ctx context.Context, tokenString string) *User {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil
	}

	uid, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return nil
	}

	return &User{
		Uid:      uid,
		Name:     claims.Name,
		Username: claims.Username,
		Email:    claims.Email,
		Groups:   claims.Groups,
	}
}
