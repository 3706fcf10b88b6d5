// Copyright (c) 2026 - The Message Bus authors.
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

// Package httputils exposes the dispatch loop, the record streams and the
// published messages over HTTP.
package httputils

import (
	"encoding/json"
	"net/http"

	"github.com/looplab/messagebus/dispatch"
)

// StatsSource is a source of dispatch counters, like *dispatch.Loop.
type StatsSource interface {
	Stats() dispatch.Stats
}

// StatsHandler returns the current dispatch counters as JSON.
func StatsHandler(src StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(src.Stats()); err != nil {
			http.Error(w, "could not encode stats: "+err.Error(), http.StatusInternalServerError)
		}
	})
}
