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

package controlplane

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeRegistry struct {
	masters  map[string]string
	services map[string]string
	policies map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{masters: map[string]string{}, services: map[string]string{}, policies: map[string]string{}}
}

func (f *fakeRegistry) OnboardMaster(id, addr string) error {
	f.masters[id] = addr
	return nil
}

func (f *fakeRegistry) DropMaster(id string) error {
	if _, ok := f.masters[id]; !ok {
		return fmt.Errorf("no such master %q", id)
	}
	delete(f.masters, id)
	return nil
}

func (f *fakeRegistry) OnboardService(masterID, serviceID, addr string) error {
	f.services[masterID+"/"+serviceID] = addr
	return nil
}

func (f *fakeRegistry) DropService(masterID, serviceID string) error {
	delete(f.services, masterID+"/"+serviceID)
	return nil
}

func (f *fakeRegistry) UpdatePolicy(serviceID, protocol, source string) error {
	f.policies[serviceID+"/"+protocol] = source
	return nil
}

func (f *fakeRegistry) QueryPolicy(serviceID, protocol string) (string, bool) {
	v, ok := f.policies[serviceID+"/"+protocol]
	return v, ok
}

func (f *fakeRegistry) DropPolicy(serviceID, protocol string) error {
	delete(f.policies, serviceID+"/"+protocol)
	return nil
}

func (f *fakeRegistry) DropAllPolicies(serviceID string) error {
	for k := range f.policies {
		if strings.HasPrefix(k, serviceID+"/") {
			delete(f.policies, k)
		}
	}
	return nil
}

func newTestServer() (*httptest.Server, *fakeRegistry) {
	reg := newFakeRegistry()
	s := NewServer(reg, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return httptest.NewServer(mux), reg
}

func TestMasterOnBoardAndDrop(t *testing.T) {
	srv, reg := newTestServer()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/master/on-board", "application/json", strings.NewReader(`{"id":"m1","addr":"10.0.0.1:9000"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got %d, want 201", resp.StatusCode)
	}
	if reg.masters["m1"] != "10.0.0.1:9000" {
		t.Fatalf("master not registered: %+v", reg.masters)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/master/drop?id=m1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("got %d, want 204", resp.StatusCode)
	}
	if _, ok := reg.masters["m1"]; ok {
		t.Fatal("master should have been dropped")
	}
}

func TestPolicyUpdateQueryAndDrop(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	body := `{"service_id":"svc1","protocol":"http","source":"fn allow_rest_request() -> bool { true }"}`
	resp, err := http.Post(srv.URL+"/policy/update", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got %d, want 202", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/policy/query?service_id=svc1&protocol=http")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/policy/drop?service_id=svc1&protocol=http", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("got %d, want 204", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/policy/query?service_id=svc1&protocol=http")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404 after drop", resp.StatusCode)
	}
}

func TestMasterDropUnknownFails(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/master/drop?id=nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", resp.StatusCode)
	}
}
