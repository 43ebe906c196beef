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
	"time"

	"github.com/google/uuid"
)

// StreamingService the service a media item plays on
type StreamingService string

// Supported streaming services
const (
	ServiceSpotify StreamingService = "SPOTIFY"
	ServiceNetflix StreamingService = "NETFLIX"
)

// Media one item in a station's media queue
type Media struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required"`
	// Duration is the item's play time in seconds
	Duration int64 `json:"duration" validate:"gte=0"`
	Service  StreamingService `json:"streamingService" validate:"required,oneof=SPOTIFY NETFLIX"`
}

// Station a persisted shared playback session
type Station struct {
	ID            uuid.UUID `json:"id"`
	OwnerUsername string    `json:"ownerUsername" validate:"required"`
	Name          string    `json:"name" validate:"required"`
	// MediaQueue is FIFO ordered. Index 0 is the item now playing.
	MediaQueue []Media `json:"mediaQueue" validate:"omitempty,dive"`
}

// playbackStopwatch wall-clock stopwatch for a station's head-of-queue item
type playbackStopwatch struct {
	startTime time.Time
}

// newPlaybackStopwatch start a stopwatch at the current time
func newPlaybackStopwatch() *playbackStopwatch {
	return &playbackStopwatch{startTime: time.Now()}
}

// elapsed seconds since the stopwatch was started
func (t *playbackStopwatch) elapsed() int64 {
	return int64(time.Since(t.startTime).Seconds())
}
