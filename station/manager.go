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

package station

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/registry"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// nowPlayingFrame the outbound frame announcing a station's current item
func nowPlayingFrame(item Media) (string, error) {
	serialized, err := json.Marshal(&item)
	if err != nil {
		return "", err
	}
	return "playing=" + string(serialized), nil
}

// Manager tracks station membership and drives synchronized playback.
//
// Membership and playback stopwatches live in memory only. The authoritative
// media queue always lives in the persistent store; a record is loaded,
// advanced, and written back within a single reconciliation pass, so multiple
// broker instances can share one store.
type Manager interface {
	// ReceiveMessage handle a join-station frame. The payload is a join
	// code with at most one trailing newline.
	ReceiveMessage(ctxt context.Context, clientID string, payload string) error
	// Reconcile run one reconciliation pass over all stations with members,
	// advancing expired head items and broadcasting playback state
	Reconcile(ctxt context.Context) error
}

// managerImpl implements Manager
type managerImpl struct {
	common.Component
	store   PersistentStore
	clients registry.ClientRegistry
	// members station ID ==> connection IDs joined to it. Entries are
	// appended on join and never purged, even on disconnect; stale IDs are
	// skipped at broadcast time.
	members map[uuid.UUID][]string
	// stopwatches station ID ==> stopwatch timing the head-of-queue item.
	// An entry exists only while a reconciliation pass is timing that item.
	stopwatches map[uuid.UUID]*playbackStopwatch
	tableLock   sync.RWMutex
	// reconcileLock serializes reconciliation passes. A station is never
	// reconciled twice concurrently, so an expiring item can not be popped
	// twice.
	reconcileLock sync.Mutex
}

// GetManagerInstance create new station manager instance
func GetManagerInstance(
	store PersistentStore, clients registry.ClientRegistry,
) (Manager, error) {
	logTags := log.Fields{"module": "station", "component": "station-manager"}
	return &managerImpl{
		Component:   common.Component{LogTags: logTags},
		store:       store,
		clients:     clients,
		members:     make(map[uuid.UUID][]string),
		stopwatches: make(map[uuid.UUID]*playbackStopwatch),
	}, nil
}

// ReceiveMessage handle a join-station frame
func (m *managerImpl) ReceiveMessage(
	ctxt context.Context, clientID string, payload string,
) error {
	code := strings.TrimSuffix(payload, "\n")

	stationID, err := m.store.ResolveJoinCode(ctxt, code)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Join by %s failed. Code %s did not resolve", clientID, code,
		)
		return err
	}

	record, err := m.store.Load(ctxt, stationID)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Join by %s failed. Unable to load station %s", clientID, stationID,
		)
		return err
	}

	m.tableLock.Lock()
	m.members[stationID] = append(m.members[stationID], clientID)
	m.tableLock.Unlock()
	log.WithFields(m.LogTags).Infof("Client %s joined station %s", clientID, stationID)

	// Send the new member the current head item immediately so it sees
	// state without waiting for the next reconciliation pass
	if len(record.MediaQueue) > 0 {
		frame, err := nowPlayingFrame(record.MediaQueue[0])
		if err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Unable to serialize head item of station %s", stationID,
			)
			return err
		}
		m.clients.SendTo(clientID, frame)
	}
	return nil
}

// Reconcile run one reconciliation pass over all stations with members
func (m *managerImpl) Reconcile(ctxt context.Context) error {
	m.reconcileLock.Lock()
	defer m.reconcileLock.Unlock()

	// Snapshot the membership table. The table is never held locked across
	// store I/O.
	m.tableLock.RLock()
	memberships := make(map[uuid.UUID][]string, len(m.members))
	for stationID, clientIDs := range m.members {
		if len(clientIDs) == 0 {
			continue
		}
		memberships[stationID] = append([]string{}, clientIDs...)
	}
	m.tableLock.RUnlock()

	for stationID, clientIDs := range memberships {
		// A failing station never aborts the rest of the sweep
		m.reconcileStation(ctxt, stationID, clientIDs)
	}
	return nil
}

// reconcileStation advance and broadcast playback state for one station
func (m *managerImpl) reconcileStation(
	ctxt context.Context, stationID uuid.UUID, clientIDs []string,
) {
	record, err := m.store.Load(ctxt, stationID)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Skipping station %s this pass. Unable to load record", stationID,
		)
		return
	}

	if len(record.MediaQueue) == 0 {
		// Nothing to time or announce for an empty queue
		m.tableLock.Lock()
		delete(m.stopwatches, stationID)
		m.tableLock.Unlock()
		return
	}

	head := record.MediaQueue[0]

	m.tableLock.Lock()
	watch, timing := m.stopwatches[stationID]
	if !timing {
		m.stopwatches[stationID] = newPlaybackStopwatch()
	}
	m.tableLock.Unlock()

	// A stopwatch started this pass counts as zero elapsed
	var elapsed int64
	if timing {
		elapsed = watch.elapsed()
	}

	if elapsed >= head.Duration {
		// Head item expired. Advance the queue in the store before touching
		// the stopwatch; a failed write leaves the station as it was.
		record.MediaQueue = record.MediaQueue[1:]
		if err := m.store.Save(ctxt, record); err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Skipping station %s this pass. Unable to persist advanced queue", stationID,
			)
			return
		}
		m.tableLock.Lock()
		delete(m.stopwatches, stationID)
		m.tableLock.Unlock()
		log.WithFields(m.LogTags).Infof(
			"Station %s finished %s after %ds", stationID, head.Name, elapsed,
		)

		if len(record.MediaQueue) > 0 {
			m.broadcastNowPlaying(stationID, record.MediaQueue[0], clientIDs)
		}
		return
	}

	if !timing {
		// Stopwatch was started this pass. Announce the head item; later
		// passes only send elapsed time.
		m.broadcastNowPlaying(stationID, head, clientIDs)
		return
	}

	// Mid-playback. Members render progress locally off the elapsed count.
	frame := strconv.FormatInt(elapsed, 10)
	for _, clientID := range clientIDs {
		m.clients.SendTo(clientID, frame)
	}
}

// broadcastNowPlaying send a now-playing frame to a station's members
func (m *managerImpl) broadcastNowPlaying(
	stationID uuid.UUID, item Media, clientIDs []string,
) {
	frame, err := nowPlayingFrame(item)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Unable to serialize head item of station %s", stationID,
		)
		return
	}
	log.WithFields(m.LogTags).Debugf("Station %s now playing %s", stationID, item.Name)
	for _, clientID := range clientIDs {
		m.clients.SendTo(clientID, frame)
	}
}
