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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientRegistration(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	clientID := uut.Register(17)
	assert.NotEmpty(clientID)

	// New clients listen on the default topic only
	client, ok := uut.Lookup(clientID)
	assert.True(ok)
	assert.Equal(17, client.UserID)
	assert.Equal([]string{"default"}, client.Topics)
	assert.Nil(client.Outbound)

	// Distinct registrations yield distinct IDs
	otherID := uut.Register(17)
	assert.NotEqual(clientID, otherID)

	// Removal is idempotent
	uut.Remove(clientID)
	_, ok = uut.Lookup(clientID)
	assert.False(ok)
	uut.Remove(clientID)
}

func TestClientTopicChange(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	clientID := uut.Register(2)
	uut.SetTopics(clientID, []string{"news", "sports"})
	client, ok := uut.Lookup(clientID)
	assert.True(ok)
	assert.Equal([]string{"news", "sports"}, client.Topics)

	// Changing topics of a removed client is a no-op
	uut.Remove(clientID)
	uut.SetTopics(clientID, []string{"other"})
	_, ok = uut.Lookup(clientID)
	assert.False(ok)
}

func TestAttachOutboundAfterRemoval(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	clientID := uut.Register(5)
	uut.Remove(clientID)

	// Raced with removal. Must not re-create the entry.
	uut.AttachOutbound(clientID, make(chan string, 1))
	_, ok := uut.Lookup(clientID)
	assert.False(ok)
}

func TestPublishTopicFiltering(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	// Three clients: two listening on "news", one on default only
	newsID1 := uut.Register(1)
	uut.SetTopics(newsID1, []string{"news"})
	newsChan1 := make(chan string, 4)
	uut.AttachOutbound(newsID1, newsChan1)

	newsID2 := uut.Register(2)
	uut.SetTopics(newsID2, []string{"news", "default"})
	newsChan2 := make(chan string, 4)
	uut.AttachOutbound(newsID2, newsChan2)

	defaultID := uut.Register(3)
	defaultChan := make(chan string, 4)
	uut.AttachOutbound(defaultID, defaultChan)

	// Without a user filter, topic match alone decides delivery
	uut.Publish("news", nil, "hello")
	assert.Equal("hello", <-newsChan1)
	assert.Equal("hello", <-newsChan2)
	assert.Empty(defaultChan)

	// With a user filter, non-matching users are excluded
	userID := 2
	uut.Publish("news", &userID, "targeted")
	assert.Empty(newsChan1)
	assert.Equal("targeted", <-newsChan2)
	assert.Empty(defaultChan)

	uut.Publish("default", nil, "broad")
	assert.Empty(newsChan1)
	assert.Equal("broad", <-newsChan2)
	assert.Equal("broad", <-defaultChan)
}

func TestPublishBestEffort(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	// One client never upgraded, one with a full channel
	_ = uut.Register(1)

	fullID := uut.Register(2)
	fullChan := make(chan string, 1)
	fullChan <- "occupied"
	uut.AttachOutbound(fullID, fullChan)

	healthyID := uut.Register(3)
	healthyChan := make(chan string, 4)
	uut.AttachOutbound(healthyID, healthyChan)

	// Neither the missing channel nor the full one disturbs delivery to
	// the healthy client
	uut.Publish("default", nil, "payload")
	assert.Equal("payload", <-healthyChan)
	assert.Equal("occupied", <-fullChan)
	assert.Empty(fullChan)
}

func TestSendToSingleClient(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetClientRegistryInstance()
	assert.Nil(err)

	targetID := uut.Register(1)
	targetChan := make(chan string, 4)
	uut.AttachOutbound(targetID, targetChan)

	bystanderID := uut.Register(1)
	bystanderChan := make(chan string, 4)
	uut.AttachOutbound(bystanderID, bystanderChan)

	uut.SendTo(targetID, "direct")
	assert.Equal("direct", <-targetChan)
	assert.Empty(bystanderChan)

	// Unknown targets are silently skipped
	uut.SendTo("no-such-client", "dropped")
}
