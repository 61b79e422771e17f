/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package radio

import (
	"math"
	"math/rand"
	"sort"

	"github.com/aiulian25/soundwave/internal/models"
)

// Exclusion windows over the session history. The stored histories are
// longer; only the most recent slice blocks re-selection.
const (
	recentPlayedWindow  = 20
	recentSkippedWindow = 10
)

// durationSimilarityWindow is the inclusive tolerance for "about the same
// length" matching, as a fraction of the seed duration.
const durationSimilarityWindow = 0.3

// recentlyAddedWindow caps how many of the newest tracks count as "recent"
// in recent mode.
const recentlyAddedWindow = 25

// Candidate is one selectable track with the reason it was proposed. The
// same track may appear more than once; every occurrence adds selection
// weight.
type Candidate struct {
	Track  models.Track
	Reason string
}

// exclusionSet collects the track ids the next draw must not return: the
// recent played window, the recent skipped window, the current track, and
// the seed track.
func exclusionSet(session *models.RadioSession) map[string]struct{} {
	excluded := make(map[string]struct{})
	for _, id := range session.PlayedTrackIDs.Tail(recentPlayedWindow) {
		excluded[id] = struct{}{}
	}
	for _, id := range session.SkippedTrackIDs.Tail(recentSkippedWindow) {
		excluded[id] = struct{}{}
	}
	if session.CurrentTrackID != "" {
		excluded[session.CurrentTrackID] = struct{}{}
	}
	if session.SeedTrackID != "" {
		excluded[session.SeedTrackID] = struct{}{}
	}
	return excluded
}

func filterExcluded(tracks []models.Track, excluded map[string]struct{}) []models.Track {
	kept := make([]models.Track, 0, len(tracks))
	for _, track := range tracks {
		if _, skip := excluded[track.ID]; skip {
			continue
		}
		kept = append(kept, track)
	}
	return kept
}

// dropDisliked removes tracks from disliked channels with the given
// probability. The drop is probabilistic so one bad signal never starves a
// channel completely.
func dropDisliked(rng *rand.Rand, tracks []models.Track, disliked models.StringList, probability float64) []models.Track {
	if len(disliked) == 0 || probability <= 0 {
		return tracks
	}
	kept := make([]models.Track, 0, len(tracks))
	for _, track := range tracks {
		if disliked.Contains(track.ChannelID) && rng.Float64() < probability {
			continue
		}
		kept = append(kept, track)
	}
	return kept
}

// generateCandidates builds the mode-specific candidate list. seedDuration
// is zero when the seed track no longer exists; the duration builder is then
// skipped. The pool has already had exclusions and disliked drops applied.
func generateCandidates(rng *rand.Rand, session *models.RadioSession, seedDuration int, pool []models.Track) []Candidate {
	variety := float64(session.VarietyLevel) / 100.0

	switch session.Mode {
	case models.RadioModeTrack:
		return trackModeCandidates(rng, session, seedDuration, pool, variety)
	case models.RadioModeArtist:
		return artistModeCandidates(rng, session, pool, variety)
	case models.RadioModeFavorites:
		return favoritesModeCandidates(rng, pool, variety)
	case models.RadioModeDiscovery:
		return discoveryModeCandidates(rng, pool)
	case models.RadioModeRecent:
		return recentModeCandidates(rng, pool, variety)
	default:
		return nil
	}
}

// trackModeCandidates anchors on the seed track: its channel, its title
// keywords, its length, the listener's liked channels, and a variety-scaled
// sprinkle of everything else.
func trackModeCandidates(rng *rand.Rand, session *models.RadioSession, seedDuration int, pool []models.Track, variety float64) []Candidate {
	var candidates []Candidate
	seedKeywords := titleKeywords(session.SeedTitle)

	for _, track := range pool {
		if session.SeedChannelID != "" && track.ChannelID == session.SeedChannelID {
			if rng.Float64() < 1.0-variety {
				candidates = append(candidates, Candidate{track, "More from " + track.ChannelName})
			}
		}
		if keywordOverlap(seedKeywords, track.Title) > 0 {
			candidates = append(candidates, Candidate{track, "Similar to " + session.SeedTitle})
		}
		if seedDuration > 0 && withinDuration(track.DurationSeconds, seedDuration) {
			candidates = append(candidates, Candidate{track, "About the same length as " + session.SeedTitle})
		}
		if session.LikedChannels.Contains(track.ChannelID) {
			candidates = append(candidates, Candidate{track, "From a channel you like"})
		}
		if variety > 0 && rng.Float64() < variety*0.25 {
			candidates = append(candidates, Candidate{track, "Mixing in something different"})
		}
	}
	return candidates
}

// artistModeCandidates treats the seed channel as the station: everything
// from it is primary, keyword-similar tracks from other channels join in
// proportion to the variety level.
func artistModeCandidates(rng *rand.Rand, session *models.RadioSession, pool []models.Track, variety float64) []Candidate {
	var candidates []Candidate
	seedKeywords := titleKeywords(session.SeedTitle)

	for _, track := range pool {
		if session.SeedChannelID != "" && track.ChannelID == session.SeedChannelID {
			candidates = append(candidates, Candidate{track, "More from " + track.ChannelName})
			continue
		}
		if keywordOverlap(seedKeywords, track.Title) > 0 && rng.Float64() < variety {
			candidates = append(candidates, Candidate{track, "Similar to " + session.SeedTitle})
		}
	}
	return candidates
}

func favoritesModeCandidates(rng *rand.Rand, pool []models.Track, variety float64) []Candidate {
	var candidates []Candidate
	for _, track := range pool {
		if track.IsFavorite {
			candidates = append(candidates, Candidate{track, "One of your favorites"})
			continue
		}
		if rng.Float64() < variety*0.2 {
			candidates = append(candidates, Candidate{track, "Mixing in something different"})
		}
	}
	return candidates
}

// discoveryModeCandidates boosts rarely played tracks by adding them to the
// candidate list more than once, which multiplies their draw weight.
func discoveryModeCandidates(rng *rand.Rand, pool []models.Track) []Candidate {
	var candidates []Candidate
	for _, track := range pool {
		if track.PlayCount < 3 {
			candidates = append(candidates, Candidate{track, "Something you've rarely heard"})
			candidates = append(candidates, Candidate{track, "Something you've rarely heard"})
			if track.PlayCount == 0 {
				candidates = append(candidates, Candidate{track, "Never played before"})
			}
			continue
		}
		if track.IsFavorite && rng.Float64() < 0.15 {
			candidates = append(candidates, Candidate{track, "A familiar favorite"})
		}
	}
	return candidates
}

func recentModeCandidates(rng *rand.Rand, pool []models.Track, variety float64) []Candidate {
	sorted := make([]models.Track, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AddedAt.After(sorted[j].AddedAt)
	})

	var candidates []Candidate
	for i, track := range sorted {
		if i < recentlyAddedWindow {
			candidates = append(candidates, Candidate{track, "Recently added to your library"})
			continue
		}
		if track.IsFavorite && rng.Float64() < variety*0.2 {
			candidates = append(candidates, Candidate{track, "A familiar favorite"})
		}
	}
	return candidates
}

func withinDuration(duration, seedDuration int) bool {
	if duration <= 0 {
		return false
	}
	delta := math.Abs(float64(duration - seedDuration))
	return delta <= durationSimilarityWindow*float64(seedDuration)
}

// drawWeighted picks one candidate. Weight per occurrence: one, plus one if
// the track's channel is liked, plus one if the track itself is a favorite.
// The draw walks the cumulative weights with a single random index.
func drawWeighted(rng *rand.Rand, candidates []Candidate, liked models.StringList) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	total := 0
	weights := make([]int, len(candidates))
	for i, candidate := range candidates {
		weight := 1
		if liked.Contains(candidate.Track.ChannelID) {
			weight++
		}
		if candidate.Track.IsFavorite {
			weight++
		}
		weights[i] = weight
		total += weight
	}

	draw := rng.Intn(total)
	for i, weight := range weights {
		draw -= weight
		if draw < 0 {
			return candidates[i], true
		}
	}
	return candidates[len(candidates)-1], true
}
