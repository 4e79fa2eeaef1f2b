// Package room tracks which connections occupy which room. A room exists
// only while it has members. Not safe for concurrent use.
package room

import "sort"

// Directory maps room names to member sets.
type Directory struct {
	rooms map[string]map[string]uint64 // room -> id -> join sequence
	seq   uint64
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]uint64)}
}

// Join adds id to room, creating the room if absent. Re-joining keeps the
// original position.
func (d *Directory) Join(room, id string) {
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]uint64)
		d.rooms[room] = members
	}
	if _, ok := members[id]; ok {
		return
	}
	d.seq++
	members[id] = d.seq
}

// Leave removes id from room and deletes the room once empty. It reports
// whether id was a member.
func (d *Directory) Leave(room, id string) bool {
	members, ok := d.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(d.rooms, room)
	}
	return true
}

// Members returns a snapshot of room's member ids in join order. The slice is
// owned by the caller.
func (d *Directory) Members(room string) []string {
	members := d.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return members[ids[i]] < members[ids[j]]
	})
	return ids
}

// Size returns the number of members in room.
func (d *Directory) Size(room string) int {
	return len(d.rooms[room])
}

// Has reports whether room currently exists.
func (d *Directory) Has(room string) bool {
	_, ok := d.rooms[room]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (d *Directory) RoomCount() int {
	return len(d.rooms)
}

// Rooms returns the current room names, sorted.
func (d *Directory) Rooms() []string {
	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
