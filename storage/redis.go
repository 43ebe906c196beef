package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/stationhub/common"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

// redisBackedStorage driver for interacting with Redis as a key-value store
type redisBackedStorage struct {
	common.Component
	client *redis.Client
}

// CreateRedisBackedStorage define a Redis backed key-value store client
func CreateRedisBackedStorage(serverURI string, timeout time.Duration) (KeyValueStore, error) {
	opts, err := redis.ParseURL(serverURI)
	if err != nil {
		log.WithError(err).Errorf("Unable to parse Redis URI %s", serverURI)
		return nil, err
	}
	opts.DialTimeout = timeout
	client := redis.NewClient(opts)
	logTags := log.Fields{"module": "storage", "component": "redis-backed"}
	log.WithFields(logTags).Infof("Defined Redis client against %s", serverURI)
	return &redisBackedStorage{
		Component: common.Component{LogTags: logTags}, client: client,
	}, nil
}

// GetString fetch the string value stored under a key
func (d *redisBackedStorage) GetString(ctxt context.Context, key string) (string, error) {
	value, err := d.client.Get(ctxt, key).Result()
	if err != nil {
		if err == redis.Nil {
			log.WithFields(d.LogTags).Debugf("READ %s found nothing", key)
			return "", fmt.Errorf("key %s not found", key)
		}
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to READ %s", key)
		return "", err
	}
	log.WithFields(d.LogTags).Debugf("READ %s", key)
	return value, nil
}

// SetString store a string value under a key
func (d *redisBackedStorage) SetString(
	ctxt context.Context, key string, value string, ttl time.Duration,
) error {
	if err := d.client.Set(ctxt, key, value, ttl).Err(); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf(
			"Failed to WRITE %s <== %s", key, value,
		)
		return err
	}
	log.WithFields(d.LogTags).Debugf("WRITE into %s", key)
	return nil
}

// Delete remove a key
func (d *redisBackedStorage) Delete(ctxt context.Context, key string) error {
	if err := d.client.Del(ctxt, key).Err(); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to DELETE %s", key)
		return err
	}
	log.WithFields(d.LogTags).Debugf("DELETE %s", key)
	return nil
}

// GetHashAll fetch all fields of the hash stored under a key
func (d *redisBackedStorage) GetHashAll(
	ctxt context.Context, key string,
) (map[string]string, error) {
	fields, err := d.client.HGetAll(ctxt, key).Result()
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to READ hash %s", key)
		return nil, err
	}
	if len(fields) == 0 {
		log.WithFields(d.LogTags).Debugf("READ hash %s found nothing", key)
		return nil, fmt.Errorf("hash %s not found", key)
	}
	log.WithFields(d.LogTags).Debugf("READ hash %s", key)
	return fields, nil
}

// Ready verify the store is reachable
func (d *redisBackedStorage) Ready(ctxt context.Context) error {
	return d.client.Ping(ctxt).Err()
}

// Close close the connection with the store
func (d *redisBackedStorage) Close() error {
	return d.client.Close()
}
