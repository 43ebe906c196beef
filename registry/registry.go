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
	"strings"
	"sync"

	"github.com/alwitt/stationhub/common"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// Client represents one registered connection
type Client struct {
	// ID is the opaque connection ID assigned at registration
	ID string
	// UserID is the integer user identity supplied at registration
	UserID int
	// Topics is the set of topics the connection listens on
	Topics []string
	// Outbound is the connection's outbound message channel. Nil until the
	// websocket upgrade completes, and owned by the connection's forwarding
	// goroutine afterwards.
	Outbound chan string
}

// listensOn whether the client listens on a topic
func (c *Client) listensOn(topic string) bool {
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ClientRegistry tracks the set of live connections and supports filtered
// best-effort message fan-out
type ClientRegistry interface {
	// Register create a new connection entry for a user, returning the
	// connection ID
	Register(userID int) string
	// AttachOutbound associate an outbound channel with a connection. No-op
	// if the connection is already gone.
	AttachOutbound(clientID string, outbound chan string)
	// Remove delete a connection entry. Idempotent.
	Remove(clientID string)
	// Lookup fetch a connection entry
	Lookup(clientID string) (Client, bool)
	// SetTopics replace a connection's topic set. No-op if the connection
	// is gone.
	SetTopics(clientID string, topics []string)
	// Publish send a message to every connection listening on the topic,
	// optionally restricted to one user ID. Delivery is best-effort: clients
	// without an outbound channel, or with a full one, are skipped.
	Publish(topic string, userID *int, message string)
	// SendTo send a message to one connection, best-effort
	SendTo(clientID string, message string)
}

// clientRegistryImpl implements ClientRegistry
type clientRegistryImpl struct {
	common.Component
	clients map[string]*Client
	lock    sync.RWMutex
}

// GetClientRegistryInstance create new client registry instance
func GetClientRegistryInstance() (ClientRegistry, error) {
	logTags := log.Fields{"module": "registry", "component": "client-registry"}
	return &clientRegistryImpl{
		Component: common.Component{LogTags: logTags},
		clients:   make(map[string]*Client),
	}, nil
}

// Register create a new connection entry for a user
func (r *clientRegistryImpl) Register(userID int) string {
	clientID := strings.ReplaceAll(uuid.New().String(), "-", "")
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clients[clientID] = &Client{
		ID:     clientID,
		UserID: userID,
		Topics: []string{"default"},
	}
	log.WithFields(r.LogTags).Infof("Registered client %s for user %d", clientID, userID)
	return clientID
}

// AttachOutbound associate an outbound channel with a connection
func (r *clientRegistryImpl) AttachOutbound(clientID string, outbound chan string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		// Raced with removal
		log.WithFields(r.LogTags).Debugf("Client %s gone. Not attaching channel", clientID)
		return
	}
	client.Outbound = outbound
}

// Remove delete a connection entry
func (r *clientRegistryImpl) Remove(clientID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	log.WithFields(r.LogTags).Infof("Removed client %s", clientID)
}

// Lookup fetch a connection entry
func (r *clientRegistryImpl) Lookup(clientID string) (Client, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return Client{}, false
	}
	return *client, true
}

// SetTopics replace a connection's topic set
func (r *clientRegistryImpl) SetTopics(clientID string, topics []string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		log.WithFields(r.LogTags).Debugf("Client %s gone. Not changing topics", clientID)
		return
	}
	client.Topics = topics
}

// Publish send a message to every connection listening on the topic
func (r *clientRegistryImpl) Publish(topic string, userID *int, message string) {
	// Snapshot the matching clients before fan-out
	r.lock.RLock()
	targets := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		if userID != nil && client.UserID != *userID {
			continue
		}
		if !client.listensOn(topic) {
			continue
		}
		targets = append(targets, *client)
	}
	r.lock.RUnlock()

	for _, client := range targets {
		r.sendBestEffort(&client, message)
	}
}

// SendTo send a message to one connection
func (r *clientRegistryImpl) SendTo(clientID string, message string) {
	r.lock.RLock()
	client, ok := r.clients[clientID]
	var target Client
	if ok {
		target = *client
	}
	r.lock.RUnlock()
	if !ok {
		log.WithFields(r.LogTags).Debugf("Client %s gone. Message dropped", clientID)
		return
	}
	r.sendBestEffort(&target, message)
}

// sendBestEffort non-blocking send on a client's outbound channel
func (r *clientRegistryImpl) sendBestEffort(client *Client, message string) {
	if client.Outbound == nil {
		log.WithFields(r.LogTags).Debugf("Client %s has no channel. Message dropped", client.ID)
		return
	}
	select {
	case client.Outbound <- message:
	default:
		log.WithFields(r.LogTags).Debugf("Client %s channel full. Message dropped", client.ID)
	}
}
