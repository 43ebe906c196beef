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
	"fmt"

	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// recordKey the station store key of a station record
func recordKey(id uuid.UUID) string {
	return fmt.Sprintf("Station_%s", id.String())
}

// joinCodeKey the station store key of a join code
func joinCodeKey(code string) string {
	return fmt.Sprintf("join-code:%s", code)
}

// PersistentStore durable station record store. Station records are stored
// as serialized JSON, keyed by station ID; the store is the single source
// of truth for a station's media queue.
type PersistentStore interface {
	// ResolveJoinCode translate a join code into a station ID
	ResolveJoinCode(ctxt context.Context, code string) (uuid.UUID, error)
	// Load fetch a station record
	Load(ctxt context.Context, id uuid.UUID) (Station, error)
	// Save persist a station record
	Save(ctxt context.Context, record Station) error
}

// persistentStoreImpl implements PersistentStore
type persistentStoreImpl struct {
	common.Component
	kv       storage.KeyValueStore
	validate *validator.Validate
}

// GetPersistentStoreInstance define a station store against a key-value store
func GetPersistentStoreInstance(kv storage.KeyValueStore) (PersistentStore, error) {
	logTags := log.Fields{"module": "station", "component": "persistent-store"}
	return &persistentStoreImpl{
		Component: common.Component{LogTags: logTags},
		kv:        kv,
		validate:  validator.New(),
	}, nil
}

// ResolveJoinCode translate a join code into a station ID
func (s *persistentStoreImpl) ResolveJoinCode(
	ctxt context.Context, code string,
) (uuid.UUID, error) {
	value, err := s.kv.GetString(ctxt, joinCodeKey(code))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to resolve join code %s", code)
		return uuid.Nil, err
	}
	id, err := uuid.Parse(value)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Join code %s resolved to invalid station ID %s", code, value,
		)
		return uuid.Nil, err
	}
	return id, nil
}

// Load fetch a station record
func (s *persistentStoreImpl) Load(ctxt context.Context, id uuid.UUID) (Station, error) {
	value, err := s.kv.GetString(ctxt, recordKey(id))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to read station %s", id)
		return Station{}, err
	}
	var record Station
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Station %s record not valid JSON", id)
		return Station{}, err
	}
	if err := s.validate.Struct(&record); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Station %s record not valid", id)
		return Station{}, err
	}
	return record, nil
}

// Save persist a station record
func (s *persistentStoreImpl) Save(ctxt context.Context, record Station) error {
	serialized, err := json.Marshal(&record)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to serialize station %s", record.ID,
		)
		return err
	}
	if err := s.kv.SetString(ctxt, recordKey(record.ID), string(serialized), 0); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to persist station %s", record.ID)
		return err
	}
	return nil
}
