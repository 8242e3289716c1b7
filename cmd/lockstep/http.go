package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cfoust/lockstep/pkg/state"

	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_MATCH_LIMIT = 20
	MAX_MATCH_LIMIT     = 100
)

// MatchHandler serves the most recent matches as JSON. The number of matches
// can be chosen with the limit query parameter.
func MatchHandler(store state.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		limit := DEFAULT_MATCH_LIMIT
		if value := r.URL.Query().Get("limit"); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed <= 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		if limit > MAX_MATCH_LIMIT {
			limit = MAX_MATCH_LIMIT
		}

		matches, err := store.RecentMatches(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("could not load matches")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if matches == nil {
			matches = []state.Match{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(matches)
	})
}
