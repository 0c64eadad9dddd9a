package api

import (
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var ErrNoFreeRoomID = errors.New("no free room id")

type RoomIDs struct {
	size int
}

func NewRoomIDs(size int) *RoomIDs {
	return &RoomIDs{size: size}
}

func (g *RoomIDs) Next(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id, err := gonanoid.Generate(roomIDAlphabet, g.size)
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		if !taken(id) {
			return id, nil
		}
	}
	return "", ErrNoFreeRoomID
}
