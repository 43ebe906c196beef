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

package apis

import (
	"context"
	"net/http"
	"sync"

	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/dispatch"
	"github.com/alwitt/stationhub/registry"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// SessionRunner runs the websocket session of a registered connection
type SessionRunner interface {
	// RunSession upgrade the request to a websocket and run the session
	// until the transport closes. Blocks for the life of the session.
	RunSession(w http.ResponseWriter, r *http.Request, clientID string)
}

// sessionRunnerImpl implements SessionRunner
type sessionRunnerImpl struct {
	common.Component
	clients        registry.ClientRegistry
	router         dispatch.MessageRouter
	upgrader       websocket.Upgrader
	outboundBuffer int
	baseContext    context.Context
	wg             *sync.WaitGroup
}

// getSessionRunner define a session runner
func getSessionRunner(
	baseContext context.Context,
	clients registry.ClientRegistry,
	router dispatch.MessageRouter,
	config *common.SessionConfig,
	wg *sync.WaitGroup,
) (SessionRunner, error) {
	logTags := log.Fields{"module": "apis", "component": "session-runner"}
	return &sessionRunnerImpl{
		Component: common.Component{LogTags: logTags},
		clients:   clients,
		router:    router,
		upgrader: websocket.Upgrader{
			// The broker sits behind its own registration step, so any
			// origin may upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		outboundBuffer: config.OutboundBuffer,
		baseContext:    baseContext,
		wg:             wg,
	}, nil
}

// RunSession upgrade the request to a websocket and run the session
func (s *sessionRunnerImpl) RunSession(
	w http.ResponseWriter, r *http.Request, clientID string,
) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Websocket upgrade failed for %s", clientID,
		)
		return
	}

	sessionCtxt, sessionCancel := context.WithCancel(s.baseContext)
	defer sessionCancel()

	// The outbound channel is attached only after upgrade. It is never
	// closed; best-effort senders in the registry must never race a close.
	// The forwarding goroutine exits on session cancel instead.
	outbound := make(chan string, s.outboundBuffer)
	s.clients.AttachOutbound(clientID, outbound)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forwardOutbound(sessionCtxt, conn, clientID, outbound)
	}()

	log.WithFields(s.LogTags).Infof("Client %s connected", clientID)

	// Inbound loop. Every received frame goes through the message router.
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).WithFields(s.LogTags).Infof(
				"Session read loop for %s ending", clientID,
			)
			break
		}
		if err := s.router.Dispatch(sessionCtxt, clientID, string(message)); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Unable to dispatch frame from %s", clientID,
			)
		}
	}

	s.clients.Remove(clientID)
	sessionCancel()
	if err := conn.Close(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debugf(
			"Error closing transport of %s", clientID,
		)
	}
	log.WithFields(s.LogTags).Infof("Client %s disconnected", clientID)
}

// forwardOutbound drain the outbound channel into the websocket. A write
// failure ends the forwarding without retry.
func (s *sessionRunnerImpl) forwardOutbound(
	ctxt context.Context, conn *websocket.Conn, clientID string, outbound chan string,
) {
	for {
		select {
		case <-ctxt.Done():
			return
		case message := <-outbound:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				log.WithError(err).WithFields(s.LogTags).Errorf(
					"Error sending websocket msg to %s", clientID,
				)
				return
			}
		}
	}
}
