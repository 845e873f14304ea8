/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package api serves the bridge over HTTP.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
	"jinr.ru/greenlab/go-hostport/pkg/srv/session"
	"jinr.ru/greenlab/go-hostport/pkg/srv/state"
)

//go:embed swagger.json
var swaggerJSON []byte

const shutdownTimeout = 5 * time.Second

// Bridge is implemented by the broker
type Bridge interface {
	Ping() error
	Activate(demodID, channelID uint32) (uint32, error)
	Deactivate(targetID uint32) (bool, error)
	SetRegister(targetID, reg, value uint32) (uint32, error)
	GetRegister(targetID, reg uint32) (uint32, error)
	EnableAutoNotify(targetID, reg uint32) (uint32, error)
	DisableAutoNotify(targetID, reg uint32) (uint32, error)
	Pause()
	Resume()
	ToggleTimeouts(enabled bool)
	Shutdown() error
	LoadProgram(path, target string) error
	ListTargets() ([]regio.TargetInfo, error)
	Status() *broker.Status
}

// Store is implemented by the state store
type Store interface {
	GetRegisters(target uint32) ([]*state.Register, error)
	GetNotifications(limit int) ([]*broker.Notification, error)
	SetSession(rec *state.SessionRecord) error
	GetSession() (*state.SessionRecord, error)
}

type Ok struct {
	Ok bool `json:"ok"`
}

type ActivateReq struct {
	DemodID   uint32 `json:"demod_id"`
	ChannelID uint32 `json:"channel_id"`
}

type SourceResp struct {
	SourceID uint32 `json:"source_id"`
}

type DeactivatedResp struct {
	Deactivated bool `json:"deactivated"`
}

// RegHex carries register numbers and values as hexadecimal strings
type RegHex struct {
	Target uint32 `json:"target"`
	Reg    string `json:"reg"`
	Value  string `json:"value"`
}

func NewRegHex(target, reg, value uint32) *RegHex {
	return &RegHex{
		Target: target,
		Reg:    fmt.Sprintf("0x%x", reg),
		Value:  fmt.Sprintf("0x%x", value),
	}
}

type ValueReq struct {
	Value string `json:"value"`
}

type LoadReq struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

type TimeoutsReq struct {
	Enabled bool `json:"enabled"`
}

type SessionResp struct {
	Status *broker.Status       `json:"status"`
	Record *state.SessionRecord `json:"record,omitempty"`
}

type ApiServer struct {
	context.Context
	cfg *config.ApiConfig
	*mux.Router
	bridge Bridge
	store  Store
	hub    http.Handler
}

// NewApiServer validates the embedded API document. The hub serves
// the notification stream and may be nil.
func NewApiServer(ctx context.Context, cfg *config.ApiConfig, bridge Bridge, store Store, hub http.Handler) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s", cfg.Addr())
	if _, err := loads.Analyzed(json.RawMessage(swaggerJSON), ""); err != nil {
		return nil, err
	}
	s := &ApiServer{
		Context: ctx,
		cfg:     cfg,
		bridge:  bridge,
		store:   store,
		hub:     hub,
	}
	s.configureRouter()
	return s, nil
}

// Handler is the router wrapped in the access log and panic recovery
func (s *ApiServer) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(log.DebugWriter(), s.Router))
}

func (s *ApiServer) Run() error {
	log.Info("Starting API server: address: %s", s.cfg.Addr())
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve serves on the listener until the context is done
func (s *ApiServer) Serve(listener net.Listener) error {
	httpServer := &http.Server{
		Handler: s.Handler(),
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(listener)
	}()
	select {
	case err := <-errChan:
		return err
	case <-s.Context.Done():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
		return s.Context.Err()
	}
}

func (s *ApiServer) configureRouter() {
	metrics.RegisterMetrics()
	s.Router = mux.NewRouter()
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/ping", s.handlePing()).Methods("GET")
	subRouter.HandleFunc("/activate", s.handleActivate()).Methods("POST")
	subRouter.HandleFunc("/deactivate/{target}", s.handleDeactivate()).Methods("POST")
	subRouter.HandleFunc("/reg/{target}", s.handleRegList()).Methods("GET")
	subRouter.HandleFunc("/reg/{target}/{reg}", s.handleRegGet()).Methods("GET")
	subRouter.HandleFunc("/reg/{target}/{reg}", s.handleRegSet()).Methods("POST")
	subRouter.HandleFunc("/auto/{mode:on|off}/{target}/{reg}", s.handleAuto()).Methods("POST")
	subRouter.HandleFunc("/session", s.handleSession()).Methods("GET")
	subRouter.HandleFunc("/session/load", s.handleLoad()).Methods("POST")
	subRouter.HandleFunc("/session/timeouts", s.handleTimeouts()).Methods("POST")
	subRouter.HandleFunc("/session/{action:pause|resume|shutdown}", s.handleSessionAction()).Methods("POST")
	subRouter.HandleFunc("/targets", s.handleTargets()).Methods("GET")
	subRouter.HandleFunc("/notifications", s.handleNotifications()).Methods("GET")
	if s.hub != nil {
		subRouter.Handle("/notifications/ws", s.hub).Methods("GET")
	}
	s.Router.Handle("/metrics", promhttp.Handler())
	s.Router.HandleFunc("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	}).Methods("GET")
	s.Router.Handle("/docs", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/swagger.json",
		Path:    "docs",
		Title:   "go-hostport API",
	}, http.NotFoundHandler())).Methods("GET")
}

// statusCode maps bridge errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.As(err, &broker.ErrReplyTimeout{}),
		errors.As(err, &session.ErrWriteTimeout{}),
		errors.As(err, &session.ErrReadyTimeout{}):
		return http.StatusGatewayTimeout
	case errors.As(err, &srv.ErrNotAvailable{}),
		errors.As(err, &session.ErrClosing{}),
		errors.As(err, &session.ErrFaulted{}):
		return http.StatusServiceUnavailable
	case errors.As(err, &state.ErrNotFound{}):
		return http.StatusNotFound
	case errors.As(err, &layers.ErrInvalidMessageShape{}):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusCode(err))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, ErrBadArgument{What: s}
	}
	return uint32(v), nil
}

// targetReg parses the target and the register from the path
func targetReg(r *http.Request) (uint32, uint32, error) {
	vars := mux.Vars(r)
	target, err := parseUint32(vars["target"])
	if err != nil {
		return 0, 0, err
	}
	reg, err := parseUint32(vars["reg"])
	if err != nil {
		return 0, 0, err
	}
	return target, reg, nil
}

func (s *ApiServer) handlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling ping request")
		if err := s.bridge.Ping(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, &Ok{Ok: true})
	}
}

func (s *ApiServer) handleActivate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &ActivateReq{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling activate request: demod: %d channel: %d", req.DemodID, req.ChannelID)
		src, err := s.bridge.Activate(req.DemodID, req.ChannelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, &SourceResp{SourceID: src})
	}
}

func (s *ApiServer) handleDeactivate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := parseUint32(mux.Vars(r)["target"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling deactivate request: target: %d", target)
		ok, err := s.bridge.Deactivate(target)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, &DeactivatedResp{Deactivated: ok})
	}
}

func (s *ApiServer) handleRegList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := parseUint32(mux.Vars(r)["target"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling reg list request: target: %d", target)
		regs, err := s.store.GetRegisters(target)
		if err != nil {
			writeError(w, err)
			return
		}
		regsHex := []*RegHex{}
		for _, reg := range regs {
			regsHex = append(regsHex, NewRegHex(reg.Target, reg.Reg, reg.Value))
		}
		writeJSON(w, regsHex)
	}
}

func (s *ApiServer) handleRegGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, reg, err := targetReg(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling reg get request: target: %d reg: 0x%x", target, reg)
		value, err := s.bridge.GetRegister(target, reg)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, NewRegHex(target, reg, value))
	}
}

func (s *ApiServer) handleRegSet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, reg, err := targetReg(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := &ValueReq{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		value, err := parseUint32(req.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling reg set request: target: %d reg: 0x%x value: 0x%x", target, reg, value)
		value, err = s.bridge.SetRegister(target, reg, value)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, NewRegHex(target, reg, value))
	}
}

func (s *ApiServer) handleAuto() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, reg, err := targetReg(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode := mux.Vars(r)["mode"]
		log.Debug("Handling auto notify request: mode: %s target: %d reg: 0x%x", mode, target, reg)
		var value uint32
		if mode == "on" {
			value, err = s.bridge.EnableAutoNotify(target, reg)
		} else {
			value, err = s.bridge.DisableAutoNotify(target, reg)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, NewRegHex(target, reg, value))
	}
}

func (s *ApiServer) handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := &SessionResp{Status: s.bridge.Status()}
		if rec, err := s.store.GetSession(); err == nil {
			resp.Record = rec
		}
		writeJSON(w, resp)
	}
}

func (s *ApiServer) handleSessionAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := mux.Vars(r)["action"]
		log.Debug("Handling session action: %s", action)
		switch action {
		case "pause":
			s.bridge.Pause()
		case "resume":
			s.bridge.Resume()
		case "shutdown":
			if err := s.bridge.Shutdown(); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, &Ok{Ok: true})
	}
}

func (s *ApiServer) handleLoad() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &LoadReq{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Path == "" {
			http.Error(w, ErrBadArgument{What: "empty program path"}.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling load request: path: %s target: %q", req.Path, req.Target)
		if err := s.bridge.LoadProgram(req.Path, req.Target); err != nil {
			writeError(w, err)
			return
		}
		rec := &state.SessionRecord{Program: req.Path, Target: req.Target, LoadedAt: time.Now()}
		if err := s.store.SetSession(rec); err != nil {
			log.Warning("Can not store session record: %s", err)
		}
		writeJSON(w, &Ok{Ok: true})
	}
}

func (s *ApiServer) handleTimeouts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &TimeoutsReq{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.bridge.ToggleTimeouts(req.Enabled)
		writeJSON(w, &Ok{Ok: true})
	}
}

func (s *ApiServer) handleTargets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets, err := s.bridge.ListTargets()
		if err != nil {
			writeError(w, err)
			return
		}
		if targets == nil {
			targets = []regio.TargetInfo{}
		}
		writeJSON(w, targets)
	}
}

func (s *ApiServer) handleNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				http.Error(w, ErrBadArgument{What: v}.Error(), http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		notifications, err := s.store.GetNotifications(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if notifications == nil {
			notifications = []*broker.Notification{}
		}
		writeJSON(w, notifications)
	}
}
