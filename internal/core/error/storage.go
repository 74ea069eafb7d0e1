package errx

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// WrapRedis maps Redis errors to a persistence AppError. redis.Nil is not
// a failure and is returned unchanged so callers can treat it as absence.
func WrapRedis(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return New(KindPersistence, err, RedisErrorMessage)
}

// WrapDB maps gorm errors to a persistence AppError.
func WrapDB(err error) error {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return New(KindPersistence, err, DBErrorMessage)
}
