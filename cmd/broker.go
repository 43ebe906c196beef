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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/stationhub/apis"
	"github.com/alwitt/stationhub/common"
	"github.com/alwitt/stationhub/dispatch"
	"github.com/alwitt/stationhub/registry"
	"github.com/alwitt/stationhub/station"
	"github.com/alwitt/stationhub/storage"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunBrokerServer run the session broker server
func RunBrokerServer(
	config *common.SystemConfig,
	instance string,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "broker",
		"instance":  instance,
	}

	kv, err := storage.CreateRedisBackedStorage(
		config.Redis.ServerURI, time.Second*time.Duration(config.Redis.ConnectTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to define Redis client with %s", config.Redis.ServerURI,
		)
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure closing Redis client")
		}
	}()

	clients, err := registry.GetClientRegistryInstance()
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define client registry")
		return err
	}

	stationStore, err := station.GetPersistentStoreInstance(kv)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define station store")
		return err
	}

	stations, err := station.GetManagerInstance(stationStore, clients)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define station manager")
		return err
	}

	msgRouter, err := dispatch.GetMessageRouterInstance(
		config.Session.DispatchWorkers, config.Session.DispatchBuffer, runTimeContext,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define message router")
		return err
	}

	topicReceiver, err := dispatch.GetTopicRequestReceiver(clients)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define topic receiver")
		return err
	}
	if err := msgRouter.RegisterReceiver("topic_request", topicReceiver); err != nil {
		return err
	}
	if err := msgRouter.RegisterReceiver("join_station", stations); err != nil {
		return err
	}
	if err := msgRouter.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start message router")
		return err
	}

	// -------------------------------------------------------------------
	// Start the station reconciliation loop

	reconcileTimer, err := common.GetIntervalTimerInstance(
		"station-reconcile", runTimeContext, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define reconcile timer")
		return err
	}
	reconcileInterval := time.Second * time.Duration(config.Station.ReconcileInterval)
	if err := reconcileTimer.Start(
		reconcileInterval, func(ctxt context.Context) error {
			return stations.Reconcile(ctxt)
		}, false,
	); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start reconcile timer")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := apis.GetAPIRestBrokerHandler(
		localCtxt, clients, msgRouter, kv, &config.HTTP, &config.Session, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.HTTP.PathPrefix, nil)

	// Client registration
	registerAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/register", map[string]http.HandlerFunc{
			"post": httpHandler.RegisterClientHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(registerAPIRouter, "/{clientID}", map[string]http.HandlerFunc{
		"delete": httpHandler.UnregisterClientHandler(),
	})

	// Message publish
	_ = apis.RegisterPathPrefix(mainRouter, "/publish", map[string]http.HandlerFunc{
		"post": httpHandler.PublishMessageHandler(),
	})

	// Websocket session
	_ = apis.RegisterPathPrefix(mainRouter, "/ws/{clientID}", map[string]http.HandlerFunc{
		"get": httpHandler.JoinSessionHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTP.Server.ListenOn, config.HTTP.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.HTTP.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.HTTP.Server.ReadTimeout),
		Handler: handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedHeaders([]string{"content-type"}),
			handlers.AllowedMethods([]string{"POST", "GET", "DELETE"}),
		)(h2c.NewHandler(router, &http2.Server{})),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	_ = reconcileTimer.Stop()
	_ = msgRouter.Stop()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
