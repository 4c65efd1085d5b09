package codec

import "sync"

// Registry manages the available brick encoders, keyed by both name and
// encoding mode so callers can look one up either way.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]BrickEncoder
	byMode map[EncodingMode]BrickEncoder
}

var defaultRegistry = &Registry{
	byName: make(map[string]BrickEncoder),
	byMode: make(map[EncodingMode]BrickEncoder),
}

// Register registers a brick encoder under its name and encoding mode.
func Register(enc BrickEncoder) {
	defaultRegistry.Register(enc)
}

// Get retrieves a brick encoder by name.
func Get(name string) (BrickEncoder, error) {
	return defaultRegistry.Get(name)
}

// GetByMode retrieves a brick encoder by encoding mode.
func GetByMode(mode EncodingMode) (BrickEncoder, error) {
	return defaultRegistry.GetByMode(mode)
}

// List returns all registered brick encoders.
func List() []BrickEncoder {
	return defaultRegistry.List()
}

// Register registers a brick encoder under its name and encoding mode.
func (r *Registry) Register(enc BrickEncoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[enc.Name()] = enc
	r.byMode[enc.Mode()] = enc
}

// Get retrieves a brick encoder by name.
func (r *Registry) Get(name string) (BrickEncoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc, ok := r.byName[name]
	if !ok {
		return nil, ErrCodecNotFound
	}
	return enc, nil
}

// GetByMode retrieves a brick encoder by encoding mode.
func (r *Registry) GetByMode(mode EncodingMode) (BrickEncoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc, ok := r.byMode[mode]
	if !ok {
		return nil, ErrCodecNotFound
	}
	return enc, nil
}

// List returns all registered brick encoders, deduplicated.
func (r *Registry) List() []BrickEncoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[BrickEncoder]bool)
	encs := make([]BrickEncoder, 0, len(r.byName))

	for _, enc := range r.byName {
		if !seen[enc] {
			seen[enc] = true
			encs = append(encs, enc)
		}
	}

	return encs
}
