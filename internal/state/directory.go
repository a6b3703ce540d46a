package state

import (
	"maps"
	"sort"
)

// DefaultUsername is reported for peers that never introduced themselves
const DefaultUsername = "anonimo"

// Entry is a single directory record
type Entry struct {
	Peer string
	Name string
}

// Directory maps peer identifiers to display names.
type Directory struct {
	names map[string]string
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

// Lookup returns the registered name for peer, or DefaultUsername.
func (d *Directory) Lookup(peer string) string {
	if name, ok := d.names[peer]; ok {
		return name
	}
	return DefaultUsername
}

// Contains reports whether peer has a registered name
func (d *Directory) Contains(peer string) bool {
	_, ok := d.names[peer]
	return ok
}

// UpsertIfAbsent registers name for peer unless the peer is already known.
// The first name learned for a peer wins. Returns true if it was inserted.
func (d *Directory) UpsertIfAbsent(peer, name string) bool {
	if _, ok := d.names[peer]; ok {
		return false
	}
	d.names[peer] = name
	return true
}

// Remove deletes peer from the directory and reports whether it was present.
func (d *Directory) Remove(peer string) bool {
	if _, ok := d.names[peer]; !ok {
		return false
	}
	delete(d.names, peer)
	return true
}

// Len returns the number of known peers
func (d *Directory) Len() int {
	return len(d.names)
}

// FindByName returns the peers registered under name
func (d *Directory) FindByName(name string) []string {
	var peers []string
	for peer, n := range d.names {
		if n == name {
			peers = append(peers, peer)
		}
	}
	sort.Strings(peers)
	return peers
}

// Entries returns all records sorted by name, then peer.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, 0, len(d.names))
	for peer, name := range d.names {
		out = append(out, Entry{Peer: peer, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Peer < out[j].Peer
	})
	return out
}

// snapshot returns a copy of the underlying map for encoding
func (d *Directory) snapshot() map[string]string {
	return maps.Clone(d.names)
}
