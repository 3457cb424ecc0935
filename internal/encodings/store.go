// Package encodings holds the known-identity store that faces are matched against.
package encodings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/types"
)

var (
	// ErrMissingStore is returned when the persisted store or the image directory does not exist.
	// Callers decide whether that is fatal.
	ErrMissingStore = errors.New("encoding store not found")

	// ErrCorruptStore is returned when a persisted store cannot be decoded into valid identities.
	ErrCorruptStore = errors.New("encoding store is corrupt")

	// ErrEmptyName is returned when an identity is added without a name.
	ErrEmptyName = errors.New("identity name must not be empty")
)

// KnownIdentity is one enrolled template. Several identities may share a name.
type KnownIdentity struct {
	Name     string
	Encoding types.FaceEncoding
}

// Store is an ordered collection of known identities. It is filled during the
// load phase and only read afterwards, so concurrent readers need no locking.
type Store struct {
	identities []KnownIdentity
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Add appends an identity, keeping insertion order.
func (s *Store) Add(name string, enc types.FaceEncoding) error {
	if name == "" {
		return ErrEmptyName
	}
	s.identities = append(s.identities, KnownIdentity{Name: name, Encoding: enc})
	return nil
}

// Len returns the number of stored templates.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.identities)
}

// At returns the identity at index i in insertion order.
func (s *Store) At(i int) KnownIdentity {
	return s.identities[i]
}

// Identities returns a copy of the stored identities.
func (s *Store) Identities() []KnownIdentity {
	if s == nil {
		return nil
	}
	out := make([]KnownIdentity, len(s.identities))
	copy(out, s.identities)
	return out
}

// Names returns the distinct names in first-seen order.
func (s *Store) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, id := range s.identities {
		if !seen[id.Name] {
			seen[id.Name] = true
			names = append(names, id.Name)
		}
	}
	return names
}

// fileFormat mirrors the {"encodings": [...], "names": [...]} layout of the legacy cache.
type fileFormat struct {
	Names     []string    `json:"names"`
	Encodings [][]float64 `json:"encodings"`
}

// Load reads a persisted store from path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStore, path)
		}
		return nil, fmt.Errorf("failed to read encoding store: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if len(f.Names) != len(f.Encodings) {
		return nil, fmt.Errorf("%w: %d names but %d encodings", ErrCorruptStore, len(f.Names), len(f.Encodings))
	}

	s := &Store{identities: make([]KnownIdentity, 0, len(f.Names))}
	for i, name := range f.Names {
		enc, err := FromSlice(f.Encodings[i])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %v", ErrCorruptStore, i, name, err)
		}
		if err := s.Add(name, enc); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptStore, i, err)
		}
	}
	return s, nil
}

// Save writes the store to path, replacing any previous file atomically.
func (s *Store) Save(path string) error {
	f := fileFormat{
		Names:     make([]string, 0, len(s.identities)),
		Encodings: make([][]float64, 0, len(s.identities)),
	}
	for _, id := range s.identities {
		f.Names = append(f.Names, id.Name)
		f.Encodings = append(f.Encodings, id.Encoding[:])
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write encoding store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace encoding store: %w", err)
	}
	return nil
}

// FromSlice converts a detector or database vector into a FaceEncoding.
func FromSlice(vec []float64) (types.FaceEncoding, error) {
	var enc types.FaceEncoding
	if len(vec) != types.EncodingDim {
		return enc, fmt.Errorf("expected %d values, got %d", types.EncodingDim, len(vec))
	}
	copy(enc[:], vec)
	return enc, nil
}
