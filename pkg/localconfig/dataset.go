package localconfig

import "fmt"

// keyedSet is an insertion-ordered set of keys with one ActiveList each.
// Dataset and ObsSet share it.
type keyedSet struct {
	keys   []string
	active map[string]*ActiveList
}

func newKeyedSet() keyedSet {
	return keyedSet{active: make(map[string]*ActiveList)}
}

func (s *keyedSet) add(key string) error {
	if _, exists := s.active[key]; exists {
		return fmt.Errorf("key %s already added", key)
	}
	s.keys = append(s.keys, key)
	s.active[key] = NewActiveList()
	return nil
}

func (s *keyedSet) del(key string) error {
	if _, exists := s.active[key]; !exists {
		return fmt.Errorf("key %s not present", key)
	}
	delete(s.active, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (s *keyedSet) clear() {
	s.keys = nil
	s.active = make(map[string]*ActiveList)
}

func (s *keyedSet) clone() keyedSet {
	c := keyedSet{
		keys:   make([]string, len(s.keys)),
		active: make(map[string]*ActiveList, len(s.active)),
	}
	copy(c.keys, s.keys)
	for k, a := range s.active {
		c.active[k] = a.Clone()
	}
	return c
}

// Dataset is a named group of variable keys updated together
type Dataset struct {
	Name string
	set  keyedSet
}

// NewDataset creates an empty dataset
func NewDataset(name string) *Dataset {
	return &Dataset{Name: name, set: newKeyedSet()}
}

// AddKey appends a variable key; adding the same key twice is an error
func (d *Dataset) AddKey(key string) error {
	if err := d.set.add(key); err != nil {
		return fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	return nil
}

// DelKey removes a variable key
func (d *Dataset) DelKey(key string) error {
	if err := d.set.del(key); err != nil {
		return fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	return nil
}

// Clear removes every key
func (d *Dataset) Clear() {
	d.set.clear()
}

// Keys returns the variable keys in insertion order
func (d *Dataset) Keys() []string {
	out := make([]string, len(d.set.keys))
	copy(out, d.set.keys)
	return out
}

// Has reports whether key belongs to the dataset
func (d *Dataset) Has(key string) bool {
	_, ok := d.set.active[key]
	return ok
}

// ActiveList returns the active list of key, or nil if key is not present
func (d *Dataset) ActiveList(key string) *ActiveList {
	return d.set.active[key]
}

// Copy returns a deep copy named name
func (d *Dataset) Copy(name string) *Dataset {
	return &Dataset{Name: name, set: d.set.clone()}
}

// ObsSet is a named group of observation keys
type ObsSet struct {
	Name string
	set  keyedSet
}

// NewObsSet creates an empty observation set
func NewObsSet(name string) *ObsSet {
	return &ObsSet{Name: name, set: newKeyedSet()}
}

// AddObs appends an observation key
func (o *ObsSet) AddObs(key string) error {
	if err := o.set.add(key); err != nil {
		return fmt.Errorf("obsset %s: %w", o.Name, err)
	}
	return nil
}

// DelObs removes an observation key
func (o *ObsSet) DelObs(key string) error {
	if err := o.set.del(key); err != nil {
		return fmt.Errorf("obsset %s: %w", o.Name, err)
	}
	return nil
}

// Clear removes every observation key
func (o *ObsSet) Clear() {
	o.set.clear()
}

// Keys returns the observation keys in insertion order
func (o *ObsSet) Keys() []string {
	out := make([]string, len(o.set.keys))
	copy(out, o.set.keys)
	return out
}

// Has reports whether key belongs to the set
func (o *ObsSet) Has(key string) bool {
	_, ok := o.set.active[key]
	return ok
}

// ActiveList returns the active list of key, or nil if key is not present
func (o *ObsSet) ActiveList(key string) *ActiveList {
	return o.set.active[key]
}

// Copy returns a deep copy named name
func (o *ObsSet) Copy(name string) *ObsSet {
	return &ObsSet{Name: name, set: o.set.clone()}
}
