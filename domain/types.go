package domain

type MessageType string

const (
	TypeJoin          MessageType = "join"
	TypeLeave         MessageType = "leave"
	TypeSync          MessageType = "sync"
	TypeStateRequest  MessageType = "stateRequest"
	TypeStateResponse MessageType = "stateResponse"
	TypeChat          MessageType = "chat"
	TypeEmote         MessageType = "emote"
	TypePresence      MessageType = "presence"
	TypeVideoChange   MessageType = "videoChange"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
)

// Event names used by the first generation of browser clients.
var legacyTypes = map[MessageType]MessageType{
	"join-room":    TypeJoin,
	"video-event":  TypeSync,
	"chat-message": TypeChat,
	"video-change": TypeVideoChange,
}

var knownTypes = map[MessageType]struct{}{
	TypeJoin:          {},
	TypeLeave:         {},
	TypeSync:          {},
	TypeStateRequest:  {},
	TypeStateResponse: {},
	TypeChat:          {},
	TypeEmote:         {},
	TypePresence:      {},
	TypeVideoChange:   {},
	TypePing:          {},
	TypePong:          {},
}

// Canonical maps legacy event names onto the current vocabulary.
func (t MessageType) Canonical() MessageType {
	if c, ok := legacyTypes[t]; ok {
		return c
	}
	return t
}

func (t MessageType) Known() bool {
	_, ok := knownTypes[t.Canonical()]
	return ok
}
