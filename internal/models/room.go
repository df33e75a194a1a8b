package models

import "time"

// RoomMetadata stores information about a room
type RoomMetadata struct {
	Name        string    `json:"name"`
	CreatorID   string    `json:"creatorId"`   // PeerId of the socket that created the room
	CreatorUser string    `json:"creatorUser"` // JWT user id, empty for anonymous sockets
	CreatedAt   time.Time `json:"createdAt"`
	MaxPlayers  int       `json:"maxPlayers"`
	PlayerCount int       `json:"playerCount"`
}

// RoomInfoResponse is returned by the room REST API
type RoomInfoResponse struct {
	RoomMetadata
	Users []User `json:"users"`
}
