package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ancer-engine/models"
	"ancer-engine/storage"
)

type namedArea struct {
	area  models.Area
	words string
}

type namedCity struct {
	city  models.City
	words string
}

// LocationResolver maps free-text locations onto the area/city hierarchy.
// It holds a snapshot of the hierarchy taken when it was built.
type LocationResolver struct {
	bySlug map[string]models.Area
	areas  []namedArea
	cities []namedCity
}

// LoadLocationResolver snapshots areas and cities from the store.
func LoadLocationResolver(ctx context.Context, store storage.LocationReader) (*LocationResolver, error) {
	areas, err := store.ListAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("location: load areas: %w", err)
	}
	cities, err := store.ListCities(ctx)
	if err != nil {
		return nil, fmt.Errorf("location: load cities: %w", err)
	}
	return NewLocationResolver(areas, cities), nil
}

// NewLocationResolver builds a resolver from an in-memory hierarchy.
func NewLocationResolver(areas []models.Area, cities []models.City) *LocationResolver {
	r := &LocationResolver{bySlug: make(map[string]models.Area, len(areas))}
	for _, a := range areas {
		r.bySlug[a.Slug] = a
		if w := wordsOf(a.Name); w != "" {
			r.areas = append(r.areas, namedArea{area: a, words: w})
		}
	}
	for _, c := range cities {
		if w := wordsOf(c.Name); w != "" {
			r.cities = append(r.cities, namedCity{city: c, words: w})
		}
	}
	sort.SliceStable(r.areas, func(i, j int) bool { return len(r.areas[i].words) > len(r.areas[j].words) })
	sort.SliceStable(r.cities, func(i, j int) bool { return len(r.cities[i].words) > len(r.cities[j].words) })
	return r
}

// AreaBySlug looks up an area by its exact slug.
func (r *LocationResolver) AreaBySlug(slug string) (models.Area, bool) {
	a, ok := r.bySlug[strings.ToLower(strings.TrimSpace(slug))]
	return a, ok
}

// Resolve maps free text onto the most specific level it can. Exact slug
// beats an area name found in the text, which beats a unique area whose
// name contains the text, which beats a city name.
func (r *LocationResolver) Resolve(text string) models.ResolvedLocation {
	if a, ok := r.bySlug[Slugify(text)]; ok {
		return areaLocation(a)
	}

	words := wordsOf(text)
	if words == "" {
		return models.ResolvedLocation{}
	}
	padded := " " + words + " "

	for _, na := range r.areas {
		if strings.Contains(padded, " "+na.words+" ") {
			return areaLocation(na.area)
		}
	}

	// The text may be a fragment of an area name ("Lekki" for "Lekki Phase 1").
	// One hit resolves the area; several hits in one city still pin the city.
	if len(words) >= 3 {
		var hits []models.Area
		for _, na := range r.areas {
			if strings.Contains(" "+na.words+" ", padded) {
				hits = append(hits, na.area)
			}
		}
		switch {
		case len(hits) == 1:
			return areaLocation(hits[0])
		case len(hits) > 1 && sameCity(hits):
			return models.ResolvedLocation{Level: models.LevelCity, CityID: hits[0].CityID, StateID: hits[0].StateID}
		}
	}

	for _, nc := range r.cities {
		if strings.Contains(padded, " "+nc.words+" ") || (len(words) >= 3 && strings.Contains(" "+nc.words+" ", padded)) {
			return models.ResolvedLocation{Level: models.LevelCity, CityID: nc.city.ID, StateID: nc.city.StateID}
		}
	}
	return models.ResolvedLocation{}
}

func areaLocation(a models.Area) models.ResolvedLocation {
	return models.ResolvedLocation{Level: models.LevelArea, AreaID: a.ID, CityID: a.CityID, StateID: a.StateID}
}

func sameCity(areas []models.Area) bool {
	for _, a := range areas[1:] {
		if a.CityID != areas[0].CityID {
			return false
		}
	}
	return true
}
