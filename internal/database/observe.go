package database

import "sync"

// allEntries keys observers interested in every path.
const allEntries = ""

// Subscribe registers fn for changes of the entry at path. The returned
// function removes the subscription and is safe to call more than once.
func (d *Database) Subscribe(path string, fn Observer) func() {
	return d.subscribe(path, fn)
}

// SubscribeAll registers fn for changes of every entry.
func (d *Database) SubscribeAll(fn Observer) func() {
	return d.subscribe(allEntries, fn)
}

func (d *Database) subscribe(key string, fn Observer) func() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.nextSub++
	id := d.nextSub
	if d.subs[key] == nil {
		d.subs[key] = make(map[uint64]Observer)
	}
	d.subs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMu.Lock()
			defer d.subMu.Unlock()
			delete(d.subs[key], id)
			if len(d.subs[key]) == 0 {
				delete(d.subs, key)
			}
		})
	}
}

// notify delivers changes in order. It must be called without holding d.mu.
func (d *Database) notify(changes []Change) {
	for _, c := range changes {
		for _, fn := range d.observersFor(c.Path) {
			fn(c)
		}
	}
}

func (d *Database) observersFor(path string) []Observer {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	fns := make([]Observer, 0, len(d.subs[path])+len(d.subs[allEntries]))
	for _, fn := range d.subs[path] {
		fns = append(fns, fn)
	}
	for _, fn := range d.subs[allEntries] {
		fns = append(fns, fn)
	}
	return fns
}
