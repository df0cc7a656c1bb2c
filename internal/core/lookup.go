package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/JonMunkholm/tdfc/internal/metrics"
)

// ErrInvalidMode is returned for a lookup mode other than single or all.
var ErrInvalidMode = errors.New("invalid lookup mode")

// ErrIndexChanged is returned when rebuilds kept committing while a lookup
// ran. Retrying the lookup is safe.
var ErrIndexChanged = errors.New("index changed during lookup")

// lookupAttempts bounds how often Lookup retries when a rebuild commits
// between its freshness check and its query.
const lookupAttempts = 3

type lookupKey struct {
	sig  Signature
	mode LookupMode
	keyA string
	keyB string
}

// Lookup answers a point query over (imprimé, code EDI). The index is brought
// up to date first, so a lookup can fail with the errors of EnsureFresh.
//
// Single mode returns the first entry in source row order. All mode returns
// every label for the key, dropping labels whose normalized form was already
// seen and keeping the first raw spelling.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (LookupResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeSingle
	}
	if mode != ModeSingle && mode != ModeAll {
		return LookupResult{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	sheet := s.sheetOrDefault(req.Sheet)

	res, err := s.lookup(ctx, sheet, mode, req.KeyA, req.KeyB)
	result := "not_found"
	switch {
	case err != nil:
		result = "error"
	case res.Found:
		result = "found"
	}
	metrics.Lookups.WithLabelValues(string(mode), result).Inc()
	return res, err
}

func (s *Service) lookup(ctx context.Context, sheet string, mode LookupMode, rawA, rawB string) (LookupResult, error) {
	for range lookupAttempts {
		sig, err := s.ensureFresh(ctx, sheet)
		if err != nil {
			return LookupResult{}, err
		}

		keyA, keyB := Normalize(rawA), Normalize(rawB)
		if keyA == "" || keyB == "" {
			return notFound(mode), nil
		}

		res, ok, err := s.query(ctx, lookupKey{sig: sig, mode: mode, keyA: keyA, keyB: keyB})
		if err != nil {
			return LookupResult{}, err
		}
		if ok {
			return res, nil
		}
	}
	return LookupResult{}, fmt.Errorf("%w after %d attempts", ErrIndexChanged, lookupAttempts)
}

// query reads the store while commits are excluded. ok is false when the
// committed generation no longer matches key.sig.
func (s *Service) query(ctx context.Context, key lookupKey) (LookupResult, bool, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	if s.loadGeneration() != key.sig {
		return LookupResult{}, false, nil
	}

	if s.cache != nil {
		if res, hit := s.cache.Get(key); hit {
			metrics.LookupCache.WithLabelValues("hit").Inc()
			return cloneResult(res), true, nil
		}
		metrics.LookupCache.WithLabelValues("miss").Inc()
	}

	var res LookupResult
	switch key.mode {
	case ModeAll:
		labels, err := s.store.All(ctx, key.keyA, key.keyB)
		if err != nil {
			return LookupResult{}, false, err
		}
		labels = DedupLabels(labels)
		res = LookupResult{Found: len(labels) > 0, Labels: labels}
	default:
		label, found, err := s.store.First(ctx, key.keyA, key.keyB)
		if err != nil {
			return LookupResult{}, false, err
		}
		res = LookupResult{Found: found, Label: label}
	}

	if s.cache != nil {
		s.cache.Add(key, res)
	}
	return cloneResult(res), true, nil
}

// DedupLabels drops labels whose normalized form already appeared, keeping
// the first raw label of each group in order.
func DedupLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		k := Normalize(l)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}

func notFound(mode LookupMode) LookupResult {
	if mode == ModeAll {
		return LookupResult{Labels: []string{}}
	}
	return LookupResult{}
}

func cloneResult(r LookupResult) LookupResult {
	r.Labels = slices.Clone(r.Labels)
	return r
}
