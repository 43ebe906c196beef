package common

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error {
			return nil
		},
	}

	// Case 2: define a executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct3{}))
	}
}

func TestTaskProcessorEventLoop(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	assert.Nil(err)

	type testStruct struct {
		payload string
	}

	received := make(chan string, 4)
	assert.Nil(uut.SetTaskExecutionMap(map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct{}): func(p interface{}) error {
			task, ok := p.(testStruct)
			assert.True(ok)
			received <- task.payload
			return nil
		},
	}))

	assert.Nil(uut.StartEventLoop(&wg))

	assert.Nil(uut.Submit(testStruct{payload: "unit-test"}, ctxt))
	select {
	case msg := <-received:
		assert.Equal("unit-test", msg)
	case <-time.After(time.Second):
		assert.FailNow("timed out waiting for task execution")
	}

	assert.Nil(uut.StopEventLoop())
}

func TestTaskDemuxProcessor(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()
	uut, err := GetNewTaskDemuxProcessorInstance("testing", 4, 3, ctxt)
	assert.Nil(err)

	type testStruct struct {
		index int
	}

	received := make(chan int, 16)
	assert.Nil(uut.SetTaskExecutionMap(map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct{}): func(p interface{}) error {
			task, ok := p.(testStruct)
			assert.True(ok)
			received <- task.index
			return nil
		},
	}))

	assert.Nil(uut.StartEventLoop(&wg))

	for itr := 0; itr < 9; itr++ {
		assert.Nil(uut.Submit(testStruct{index: itr}, ctxt))
	}

	seen := map[int]bool{}
	for itr := 0; itr < 9; itr++ {
		select {
		case idx := <-received:
			seen[idx] = true
		case <-time.After(time.Second):
			assert.FailNow("timed out waiting for task execution")
		}
	}
	assert.Len(seen, 9)

	assert.Nil(uut.StopEventLoop())
}
