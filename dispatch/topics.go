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
	"encoding/json"

	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/registry"
	"github.com/apex/log"
)

// TopicsRequest structure for changing a connection's listen topics
type TopicsRequest struct {
	Topics []string `json:"topics"`
}

// topicRequestReceiver MessageReceiver mutating a connection's topic set
type topicRequestReceiver struct {
	common.Component
	clients registry.ClientRegistry
}

// GetTopicRequestReceiver define the topic request receiver
func GetTopicRequestReceiver(clients registry.ClientRegistry) (MessageReceiver, error) {
	logTags := log.Fields{"module": "dispatch", "component": "topic-request"}
	return &topicRequestReceiver{
		Component: common.Component{LogTags: logTags}, clients: clients,
	}, nil
}

// ReceiveMessage parse a topics request and apply it to the connection.
// A payload which does not parse leaves the topic set unchanged.
func (t *topicRequestReceiver) ReceiveMessage(
	ctxt context.Context, clientID string, payload string,
) error {
	var request TopicsRequest
	if err := json.Unmarshal([]byte(payload), &request); err != nil {
		log.WithError(err).WithFields(t.LogTags).Errorf(
			"Unable to parse topics request from %s", clientID,
		)
		return err
	}
	t.clients.SetTopics(clientID, request.Topics)
	return nil
}
