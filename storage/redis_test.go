package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestRedisStringOperations(t *testing.T) {
	assert := assert.New(t)

	mr, err := miniredis.Run()
	assert.Nil(err)
	defer mr.Close()

	uut, err := CreateRedisBackedStorage(
		fmt.Sprintf("redis://%s", mr.Addr()), time.Second,
	)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Missing key is an error
	_, err = uut.GetString(ctxt, "unit-test")
	assert.NotNil(err)

	// Round trip without expiry
	assert.Nil(uut.SetString(ctxt, "unit-test", "value", 0))
	value, err := uut.GetString(ctxt, "unit-test")
	assert.Nil(err)
	assert.Equal("value", value)

	// Delete removes the key
	assert.Nil(uut.Delete(ctxt, "unit-test"))
	_, err = uut.GetString(ctxt, "unit-test")
	assert.NotNil(err)
}

func TestRedisStringTTL(t *testing.T) {
	assert := assert.New(t)

	mr, err := miniredis.Run()
	assert.Nil(err)
	defer mr.Close()

	uut, err := CreateRedisBackedStorage(
		fmt.Sprintf("redis://%s", mr.Addr()), time.Second,
	)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Nil(uut.SetString(ctxt, "short-lived", "value", time.Second*30))
	value, err := uut.GetString(ctxt, "short-lived")
	assert.Nil(err)
	assert.Equal("value", value)

	mr.FastForward(time.Second * 31)
	_, err = uut.GetString(ctxt, "short-lived")
	assert.NotNil(err)
}

func TestRedisHashRead(t *testing.T) {
	assert := assert.New(t)

	mr, err := miniredis.Run()
	assert.Nil(err)
	defer mr.Close()

	uut, err := CreateRedisBackedStorage(
		fmt.Sprintf("redis://%s", mr.Addr()), time.Second,
	)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Missing hash is an error
	_, err = uut.GetHashAll(ctxt, "unit-test")
	assert.NotNil(err)

	mr.HSet("unit-test", "field1", "value1")
	mr.HSet("unit-test", "field2", "value2")
	fields, err := uut.GetHashAll(ctxt, "unit-test")
	assert.Nil(err)
	assert.Equal(
		map[string]string{"field1": "value1", "field2": "value2"}, fields,
	)
}

func TestRedisReady(t *testing.T) {
	assert := assert.New(t)

	mr, err := miniredis.Run()
	assert.Nil(err)

	uut, err := CreateRedisBackedStorage(
		fmt.Sprintf("redis://%s", mr.Addr()), time.Second,
	)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Nil(uut.Ready(ctxt))

	mr.Close()
	assert.NotNil(uut.Ready(ctxt))
}
