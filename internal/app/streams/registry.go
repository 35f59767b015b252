// Package streams tracks the media received from every remote participant,
// one versioned bundle per (owner, stream kind).
package streams

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

var ErrStaleVersion = errors.New("stale bundle version")

// Versions hands out bundle versions. It is shared with the transport adapter,
// which stamps bundles on its own goroutines, hence the atomic.
type Versions struct {
	n atomic.Uint64
}

func (v *Versions) Next() uint64 { return v.n.Add(1) }

type key struct {
	owner domain.ParticipantID
	kind  domain.StreamKind
}

// Registry is owned by the control loop and is not safe for concurrent use.
type Registry struct {
	bundles map[key]domain.StreamBundle
	log     zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		bundles: make(map[key]domain.StreamBundle),
		log:     log,
	}
}

// Put replaces the bundle of (owner, kind) wholesale. A bundle whose version is
// not newer than the stored one is rejected.
func (r *Registry) Put(owner domain.ParticipantID, kind domain.StreamKind, b domain.StreamBundle) error {
	k := key{owner: owner, kind: kind}
	if cur, ok := r.bundles[k]; ok && b.Version <= cur.Version {
		r.log.Debug().
			Str("owner", string(owner)).
			Str("kind", string(kind)).
			Uint64("version", b.Version).
			Uint64("current", cur.Version).
			Msg("stale bundle dropped")
		return ErrStaleVersion
	}
	b.OwnerID = owner
	b.Kind = kind
	r.bundles[k] = b
	r.log.Info().
		Str("owner", string(owner)).
		Str("kind", string(kind)).
		Uint64("version", b.Version).
		Int("tracks", len(b.Tracks)).
		Msg("bundle stored")
	return nil
}

func (r *Registry) Get(owner domain.ParticipantID, kind domain.StreamKind) (domain.StreamBundle, bool) {
	b, ok := r.bundles[key{owner: owner, kind: kind}]
	return b, ok
}

// Remove drops every bundle of owner. Only connection teardown calls it.
func (r *Registry) Remove(owner domain.ParticipantID) int {
	n := 0
	for k := range r.bundles {
		if k.owner == owner {
			delete(r.bundles, k)
			n++
		}
	}
	if n > 0 {
		r.log.Info().Str("owner", string(owner)).Int("bundles", n).Msg("bundles removed")
	}
	return n
}

// SetEnabled flips the enabled flag of the owner's tracks of one media kind
// inside one stream kind. Tracks stay bound. It returns the number of tracks touched.
func (r *Registry) SetEnabled(owner domain.ParticipantID, kind domain.StreamKind, media domain.MediaKind, enabled bool) int {
	b, ok := r.bundles[key{owner: owner, kind: kind}]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range b.Tracks {
		if t.Kind() != media || t.Enabled() == enabled {
			continue
		}
		t.SetEnabled(enabled)
		n++
	}
	return n
}

func (r *Registry) Len() int { return len(r.bundles) }

// Snapshot returns read-only views ordered by owner then kind.
func (r *Registry) Snapshot() []domain.StreamInfo {
	out := lo.MapToSlice(r.bundles, func(_ key, b domain.StreamBundle) domain.StreamInfo {
		return b.Info()
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
