// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controlplane implements the control-plane-facing HTTP/JSON API
// of spec §6: master/service onboarding and policy distribution, fronting
// a fleet of hosts each reachable over their own Unix domain socket.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HostRegistry abstracts the set of onboarded hosts this control plane
// fronts, so Server stays testable without a real fleet.
type HostRegistry interface {
	OnboardMaster(id, addr string) error
	DropMaster(id string) error
	OnboardService(masterID, serviceID, addr string) error
	DropService(masterID, serviceID string) error
	UpdatePolicy(serviceID, protocol, source string) error
	QueryPolicy(serviceID, protocol string) (string, bool)
	DropPolicy(serviceID, protocol string) error
	DropAllPolicies(serviceID string) error
}

// Server handles the control-plane HTTP requests fronting a fleet of hosts.
type Server struct {
	registry HostRegistry
	log      *zap.Logger
}

// NewServer configures a Server against registry.
func NewServer(registry HostRegistry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{registry: registry, log: log}
}

// RegisterRoutes sets up the eight control-plane routes on mux (spec §6).
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/master/on-board", s.handleMasterOnBoard)
	mux.HandleFunc("/master/drop", s.handleMasterDrop)
	mux.HandleFunc("/service/on-board", s.handleServiceOnBoard)
	mux.HandleFunc("/service/drop", s.handleServiceDrop)
	mux.HandleFunc("/policy/update", s.handlePolicyUpdate)
	mux.HandleFunc("/policy/query", s.handlePolicyQuery)
	mux.HandleFunc("/policy/drop", s.handlePolicyDrop)
	mux.HandleFunc("/policy/drop-all", s.handlePolicyDropAll)
}

// ListenAndServe starts the control-plane HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("control plane listening", zap.String("addr", addr))
	return httpServer.ListenAndServe()
}

type masterOnBoardRequest struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

func (s *Server) handleMasterOnBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req masterOnBoardRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.OnboardMaster(req.ID, req.Addr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleMasterDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.registry.DropMaster(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceOnBoardRequest struct {
	MasterID  string `json:"master_id"`
	ServiceID string `json:"service_id"`
	Addr      string `json:"addr"`
}

func (s *Server) handleServiceOnBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req serviceOnBoardRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.OnboardService(req.MasterID, req.ServiceID, req.Addr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleServiceDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	masterID := r.URL.Query().Get("master_id")
	serviceID := r.URL.Query().Get("service_id")
	if masterID == "" || serviceID == "" {
		http.Error(w, "master_id and service_id are required", http.StatusBadRequest)
		return
	}
	if err := s.registry.DropService(masterID, serviceID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type policyUpdateRequest struct {
	ServiceID string `json:"service_id"`
	Protocol  string `json:"protocol"`
	Source    string `json:"source"`
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req policyUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.UpdatePolicy(req.ServiceID, req.Protocol, req.Source); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePolicyQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	serviceID := r.URL.Query().Get("service_id")
	protocol := r.URL.Query().Get("protocol")
	source, ok := s.registry.QueryPolicy(serviceID, protocol)
	if !ok {
		http.Error(w, "no policy installed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"source": source})
}

func (s *Server) handlePolicyDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	serviceID := r.URL.Query().Get("service_id")
	protocol := r.URL.Query().Get("protocol")
	if err := s.registry.DropPolicy(serviceID, protocol); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePolicyDropAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	serviceID := r.URL.Query().Get("service_id")
	if err := s.registry.DropAllPolicies(serviceID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
