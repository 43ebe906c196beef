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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/dispatch"
	"github.com/alwitt/stationhub/registry"
	"github.com/alwitt/stationhub/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// RegisterRequest parameters to register a new client connection
type RegisterRequest struct {
	// UserID is the user identity the connection belongs to
	UserID int `json:"user_id" validate:"gte=0"`
}

// RegisterResponse response to a client registration
type RegisterResponse struct {
	goutils.RestAPIBaseResponse
	// URL is the websocket join URL for the new connection
	URL string `json:"url"`
}

// PublishRequest parameters to publish a message to listening connections
type PublishRequest struct {
	// Topic is the topic a connection must listen on to receive the message
	Topic string `json:"topic" validate:"required"`
	// UserID optionally restricts delivery to one user's connections
	UserID *int `json:"user_id,omitempty"`
	// Message is the raw text forwarded to matching connections
	Message string `json:"message" validate:"required"`
}

// APIRestBrokerHandler REST handler for the session broker
type APIRestBrokerHandler struct {
	goutils.RestAPIHandler
	clients        registry.ClientRegistry
	sessions       SessionRunner
	kv             storage.KeyValueStore
	validate       *validator.Validate
	advertisedHost string
}

// GetAPIRestBrokerHandler define APIRestBrokerHandler
func GetAPIRestBrokerHandler(
	baseContext context.Context,
	clients registry.ClientRegistry,
	router dispatch.MessageRouter,
	kv storage.KeyValueStore,
	httpConfig *common.HTTPConfig,
	sessionConfig *common.SessionConfig,
	wg *sync.WaitGroup,
) (APIRestBrokerHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "broker-rest",
	}
	sessions, err := getSessionRunner(baseContext, clients, router, sessionConfig, wg)
	if err != nil {
		return APIRestBrokerHandler{}, err
	}
	return APIRestBrokerHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		clients:        clients,
		sessions:       sessions,
		kv:             kv,
		validate:       validator.New(),
		advertisedHost: httpConfig.AdvertisedHost,
	}, nil
}

// =======================================================================
// Client registration

// -----------------------------------------------------------------------

// RegisterClient godoc
// @Summary Register a client connection
// @Description Create a new client connection entry for a user, and return
// the websocket join URL for it
// @tags Broker
// @Accept json
// @Produce json
// @Param registerParam body RegisterRequest true "Registration parameters"
// @Success 200 {object} RegisterResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /register [post]
func (h APIRestBrokerHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse registration request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid registration request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	clientID := h.clients.Register(params.UserID)
	respCode = http.StatusOK
	respBody = RegisterResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		URL:                 fmt.Sprintf("ws://%s/ws/%s", h.advertisedHost, clientID),
	}
}

// RegisterClientHandler Wrapper around RegisterClient
func (h APIRestBrokerHandler) RegisterClientHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.RegisterClient(w, r)
	}
}

// -----------------------------------------------------------------------

// UnregisterClient godoc
// @Summary Unregister a client connection
// @Description Remove a client connection entry. Idempotent.
// @tags Broker
// @Produce json
// @Param clientID path string true "Connection ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /register/{clientID} [delete]
func (h APIRestBrokerHandler) UnregisterClient(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	clientID, ok := vars["clientID"]
	if !ok {
		msg := "No connection ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	h.clients.Remove(clientID)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// UnregisterClientHandler Wrapper around UnregisterClient
func (h APIRestBrokerHandler) UnregisterClientHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UnregisterClient(w, r)
	}
}

// =======================================================================
// Message publish

// -----------------------------------------------------------------------

// PublishMessage godoc
// @Summary Publish a message
// @Description Publish a message to every connection listening on a topic,
// optionally restricted to one user. Delivery is best-effort.
// @tags Broker
// @Accept json
// @Produce json
// @Param publishParam body PublishRequest true "Publish parameters"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /publish [post]
func (h APIRestBrokerHandler) PublishMessage(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse publish request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid publish request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.clients.Publish(params.Topic, params.UserID, params.Message)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// PublishMessageHandler Wrapper around PublishMessage
func (h APIRestBrokerHandler) PublishMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PublishMessage(w, r)
	}
}

// =======================================================================
// Websocket session

// -----------------------------------------------------------------------

// JoinSession godoc
// @Summary Open a client websocket session
// @Description Upgrade a registered connection to a websocket session. The
// connection ID must come from a prior registration.
// @tags Broker
// @Param clientID path string true "Connection ID"
// @Success 101 {string} string "protocol upgrade"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /ws/{clientID} [get]
func (h APIRestBrokerHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	vars := mux.Vars(r)
	clientID, ok := vars["clientID"]
	if !ok {
		msg := "No connection ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		if err := h.WriteRESTResponse(
			w,
			http.StatusBadRequest,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	if _, ok := h.clients.Lookup(clientID); !ok {
		msg := fmt.Sprintf("Connection %s never registered", clientID)
		log.WithFields(localLogTags).Error(msg)
		if err := h.WriteRESTResponse(
			w,
			http.StatusNotFound,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusNotFound, msg, msg),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	// The session runner owns the response writer from here on
	h.sessions.RunSession(w, r, clientID)
}

// JoinSessionHandler Wrapper around JoinSession
func (h APIRestBrokerHandler) JoinSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.JoinSession(w, r)
	}
}

// =======================================================================
// Health checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For broker REST API liveness check
// @Description Will return success to indicate broker REST API module is live
// @tags Broker
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestBrokerHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestBrokerHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For broker REST API readiness check
// @Description Will return success if the broker can reach its durable store
// @tags Broker
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestBrokerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.kv.Ready(r.Context()); err != nil {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
	} else {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestBrokerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
