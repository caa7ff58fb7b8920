package services

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// ErrUnknownLocation is returned for location ids that are not registered.
var ErrUnknownLocation = errors.New("unknown location")

// Slugify turns a city name into a location id: accents folded, lower case,
// runs of other characters collapsed to "-". "São José" becomes "sao-jose".
func Slugify(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// LocationRegistry holds the tracked locations in registration order.
type LocationRegistry struct {
	mu        sync.RWMutex
	locations map[string]models.Location
	order     []string
}

func NewLocationRegistry() *LocationRegistry {
	return &LocationRegistry{
		locations: make(map[string]models.Location),
	}
}

// Upsert validates loc, derives its id from the name when missing, and
// stores it. Existing entries keep their position.
func (r *LocationRegistry) Upsert(loc models.Location) (models.Location, error) {
	if err := loc.Validate(); err != nil {
		return models.Location{}, err
	}
	if loc.ID == "" {
		loc.ID = Slugify(loc.Name)
	}
	if loc.ID == "" {
		return models.Location{}, errors.New("location name must contain letters or digits")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.locations[loc.ID]; !exists {
		r.order = append(r.order, loc.ID)
	}
	r.locations[loc.ID] = loc
	return loc, nil
}

func (r *LocationRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.locations[id]; !exists {
		return false
	}
	delete(r.locations, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *LocationRegistry) Get(id string) (models.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.locations[id]
	return loc, ok
}

// Resolve finds a location by id or by city name, ignoring case and accents.
func (r *LocationRegistry) Resolve(city string) (models.Location, bool) {
	if loc, ok := r.Get(city); ok {
		return loc, true
	}
	return r.Get(Slugify(city))
}

func (r *LocationRegistry) List() []models.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.Location, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.locations[id])
	}
	return list
}

func (r *LocationRegistry) FirstActive() (models.Location, bool) {
	for _, loc := range r.List() {
		if loc.Active {
			return loc, true
		}
	}
	return models.Location{}, false
}
