package core

// Room groups clients subscribed to the same channel.
type Room struct {
	ChannelID string
	clients   map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(channelID string) *Room {
	return &Room{
		ChannelID: channelID,
		clients:   make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to all clients in the room except the excluded one.
// It returns the number of clients the event was dropped for.
func (r *Room) Broadcast(event *Event, exclude *Client) int {
	dropped := 0
	for client := range r.clients {
		if client == exclude {
			continue
		}
		if !client.deliver(event) {
			dropped++
		}
	}
	return dropped
}

// Len returns the number of clients in the room.
func (r *Room) Len() int {
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// RoomIndex maps channel ids to their live rooms. Empty rooms are removed.
// It is not safe for concurrent use; the hub goroutine owns it.
type RoomIndex struct {
	rooms map[string]*Room
}

// NewRoomIndex returns an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: make(map[string]*Room)}
}

// Join adds the client to the channel's room, creating it on demand.
// Joining with a released client is a no-op.
func (x *RoomIndex) Join(c *Client, channelID string) bool {
	if c.closed {
		return false
	}
	room, ok := x.rooms[channelID]
	if !ok {
		room = NewRoom(channelID)
		x.rooms[channelID] = room
	}
	return room.AddClient(c)
}

// Leave removes the client from the channel's room and drops the room once empty.
func (x *RoomIndex) Leave(c *Client, channelID string) bool {
	room, ok := x.rooms[channelID]
	if !ok {
		return false
	}
	removed := room.RemoveClient(c)
	if room.Empty() {
		delete(x.rooms, channelID)
	}
	return removed
}

// Room returns the live room for a channel, if any.
func (x *RoomIndex) Room(channelID string) (*Room, bool) {
	room, ok := x.rooms[channelID]
	return room, ok
}

// MembersOf returns a snapshot of the clients in a channel's room.
func (x *RoomIndex) MembersOf(channelID string) []*Client {
	room, ok := x.rooms[channelID]
	if !ok {
		return nil
	}
	members := make([]*Client, 0, len(room.clients))
	for c := range room.clients {
		members = append(members, c)
	}
	return members
}

// Len returns the number of live rooms.
func (x *RoomIndex) Len() int {
	return len(x.rooms)
}

func (x *RoomIndex) releaseAll() {
	x.rooms = make(map[string]*Room)
}
