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

package httputils

import (
	"encoding/json"
	"net/http"
	"path"
	"time"

	mb "github.com/looplab/messagebus"
)

type record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Aggregate string         `json:"aggregate"`
	Version   int            `json:"version"`
	EventType mb.MessageType `json:"event_type"`
	Event     mb.Message     `json:"event,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RecordsHandler returns the record stream of an aggregate as JSON, using the
// last part of the path as the aggregate ID.
func RecordsHandler(store mb.RecordStore, idType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)

			return
		}

		_, id := path.Split(r.URL.Path)
		if id == "" {
			http.Error(w, "missing aggregate ID", http.StatusBadRequest)

			return
		}

		records, err := store.Load(r.Context(), id, idType)
		if err != nil {
			http.Error(w, "could not load records: "+err.Error(), http.StatusInternalServerError)

			return
		}

		if len(records) == 0 {
			http.Error(w, "could not find aggregate", http.StatusNotFound)

			return
		}

		out := make([]record, len(records))
		for i, rec := range records {
			out[i] = record{
				ID:        rec.ID,
				Type:      rec.Type,
				Aggregate: rec.Aggregate,
				Version:   rec.Version,
				EventType: rec.EventType,
				Event:     rec.Event,
				Timestamp: rec.Timestamp,
			}
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, "could not encode records: "+err.Error(), http.StatusInternalServerError)
		}
	})
}
