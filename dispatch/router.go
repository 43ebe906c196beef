// Copyright 2021-2022 The stationhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/alwitt/stationhub/common"
	"github.com/apex/log"
)

// MessageReceiver handles inbound message payloads dispatched under a
// registered receiver ID
type MessageReceiver interface {
	ReceiveMessage(ctxt context.Context, clientID string, payload string) error
}

// MessageRouter routes inbound session frames to named receivers
type MessageRouter interface {
	// RegisterReceiver associate a receiver with an ID. Must be called
	// before Start.
	RegisterReceiver(receiverID string, receiver MessageReceiver) error
	// Dispatch parse one inbound frame and hand it to the matching receiver.
	// Receiver invocation runs on the router's worker pool, never on the
	// caller's goroutine.
	Dispatch(ctxt context.Context, clientID string, message string) error
	// Start start the router worker pool
	Start(wg *sync.WaitGroup) error
	// Stop stop the router worker pool
	Stop() error
}

// messageRouterImpl implements MessageRouter
type messageRouterImpl struct {
	common.Component
	receivers        map[string]MessageReceiver
	tp               common.TaskProcessor
	operationContext context.Context
	contextCancel    context.CancelFunc
}

// receiverInvokeTask worker pool task param for one receiver invocation
type receiverInvokeTask struct {
	receiverID string
	clientID   string
	payload    string
}

// GetMessageRouterInstance create new message router instance
func GetMessageRouterInstance(
	workers int, taskBuffer int, rootCtxt context.Context,
) (MessageRouter, error) {
	logTags := log.Fields{"module": "dispatch", "component": "message-router"}
	ctxt, cancel := context.WithCancel(rootCtxt)
	tp, err := common.GetNewTaskDemuxProcessorInstance("msg-router", taskBuffer, workers, ctxt)
	if err != nil {
		cancel()
		log.WithError(err).WithFields(logTags).Errorf("Unable to define task processor")
		return nil, err
	}
	instance := &messageRouterImpl{
		Component:        common.Component{LogTags: logTags},
		receivers:        make(map[string]MessageReceiver),
		tp:               tp,
		operationContext: ctxt,
		contextCancel:    cancel,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(receiverInvokeTask{}), instance.processReceiverInvoke,
	); err != nil {
		cancel()
		return nil, err
	}
	return instance, nil
}

// RegisterReceiver associate a receiver with an ID
func (r *messageRouterImpl) RegisterReceiver(receiverID string, receiver MessageReceiver) error {
	if _, ok := r.receivers[receiverID]; ok {
		return fmt.Errorf("receiver %s already registered", receiverID)
	}
	log.WithFields(r.LogTags).Infof("Registered receiver %s", receiverID)
	r.receivers[receiverID] = receiver
	return nil
}

// Dispatch parse one inbound frame and hand it to the matching receiver
func (r *messageRouterImpl) Dispatch(ctxt context.Context, clientID string, message string) error {
	// Heartbeat frames need no further action
	if message == "ping" || message == "ping\n" {
		return nil
	}

	receiverID, payload, found := strings.Cut(message, "=")
	if !found {
		log.WithFields(r.LogTags).Errorf(
			"Malformed frame from %s. Expected <id>=<value>", clientID,
		)
		return nil
	}

	if _, ok := r.receivers[receiverID]; !ok {
		log.WithFields(r.LogTags).Errorf(
			"Frame from %s names unknown receiver %s", clientID, receiverID,
		)
		return nil
	}

	return r.tp.Submit(
		receiverInvokeTask{receiverID: receiverID, clientID: clientID, payload: payload}, ctxt,
	)
}

// processReceiverInvoke worker pool callback for one receiver invocation
func (r *messageRouterImpl) processReceiverInvoke(param interface{}) error {
	task, ok := param.(receiverInvokeTask)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for receiver invoke", reflect.TypeOf(param),
		)
	}
	receiver := r.receivers[task.receiverID]
	if err := receiver.ReceiveMessage(
		r.operationContext, task.clientID, task.payload,
	); err != nil {
		// Receiver failures never reach the originating connection
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Receiver %s failed on frame from %s", task.receiverID, task.clientID,
		)
	}
	return nil
}

// Start start the router worker pool
func (r *messageRouterImpl) Start(wg *sync.WaitGroup) error {
	return r.tp.StartEventLoop(wg)
}

// Stop stop the router worker pool
func (r *messageRouterImpl) Stop() error {
	r.contextCancel()
	return r.tp.StopEventLoop()
}
