package localstore

import (
	"strings"
	"time"
)

// SearchFilters selects entries. Query matches free text in decrypted
// bodies (cache tier only); the remaining filters match cleartext metadata
// and work whether or not the cache is enabled.
type SearchFilters struct {
	Query string
	Tags  []string
	Mood  string
	From  time.Time
	To    time.Time
}

// Match is one search hit. Body is populated only when the hit came from
// the decrypted cache.
type Match struct {
	EntryID string
	Body    string
	Tags    []string
	Mood    string
}

// Search returns entries matching the filters. With the decrypted cache
// enabled it searches plaintext bodies, tags and mood; with it disabled it
// degrades to filtering on cleartext metadata (dates, tags, mood the user
// opted to leave unencrypted) and ignores Query.
func (s *LocalStore) Search(filters SearchFilters) ([]Match, error) {
	var matches []Match
	err := s.forEachRecord(func(record *localRecord) error {
		entry := &record.Entry

		if !filters.From.IsZero() && entry.UpdatedAt.Before(filters.From) {
			return nil
		}
		if !filters.To.IsZero() && entry.UpdatedAt.After(filters.To) {
			return nil
		}

		if s.cfg.CacheEnabled {
			if cached, err := s.Cached(entry.ID); err == nil {
				if m, ok := matchPlaintext(cached.Body, cached.Tags, cached.Mood, filters); ok {
					m.EntryID = entry.ID
					matches = append(matches, m)
				}
				return nil
			}
			// Not cached (or TTL lapsed): fall through to metadata
		}

		if filters.Query != "" {
			// Free-text search needs plaintext; nothing to match against
			return nil
		}
		if m, ok := matchPlaintext("", entry.Metadata.Tags, entry.Metadata.Mood, filters); ok {
			m.EntryID = entry.ID
			matches = append(matches, m)
		}
		return nil
	})
	return matches, err
}

func matchPlaintext(body string, tags []string, mood string, filters SearchFilters) (Match, bool) {
	if filters.Query != "" && !strings.Contains(strings.ToLower(body), strings.ToLower(filters.Query)) {
		return Match{}, false
	}
	if filters.Mood != "" && filters.Mood != mood {
		return Match{}, false
	}
	for _, want := range filters.Tags {
		if !containsTag(tags, want) {
			return Match{}, false
		}
	}
	return Match{Body: body, Tags: tags, Mood: mood}, true
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
