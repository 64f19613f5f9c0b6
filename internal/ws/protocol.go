package ws

import (
	"encoding/json"
	"log"
)

// Типы событий протокола. Клиент -> сервер.
const (
	EvMatchJoin         = "match:join"
	EvMatchLeave        = "match:leave"
	EvMatchStatus       = "match:status"
	EvRoundPress        = "round:press"
	EvIntentSubscribe   = "join-intent:subscribe"
	EvIntentUnsubscribe = "join-intent:unsubscribe"
)

// Сервер -> клиент.
const (
	EvMatchJoined        = "match:joined"
	EvMatchAlreadyJoined = "match:alreadyJoined"
	EvMatchPlayerJoined  = "match:playerJoined"
	EvMatchStarted       = "match:started"
	EvMatchPlayerLeft    = "match:playerLeft"
	EvMatchLeft          = "match:left"
	EvRoundStarted       = "round:started"
	EvRoundPlayerPressed = "round:playerPressed"
	EvRoundEnded         = "round:ended"
	EvMatchFinished      = "match:finished"
	EvIntentPaid         = "join-intent:paid"
	EvError              = "error"
)

// входящее сообщение; лишние поля конкретного типа просто пустые
type inboundMessage struct {
	Type     string `json:"type"`
	RoomType string `json:"room_type,omitempty"`
	MatchID  string `json:"match_id,omitempty"`
	IntentID string `json:"intent_id,omitempty"`
}

// собирает исходящее событие: payload плюс поле type
func event(eventType string, payload map[string]interface{}) []byte {
	if payload == nil {
		payload = make(map[string]interface{}, 1)
	}
	payload["type"] = eventType

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws.event: ошибка сериализации %s: %v", eventType, err)
		return []byte(`{"type":"error","message":"internal"}`)
	}
	return data
}

func errorEvent(message string) []byte {
	return event(EvError, map[string]interface{}{"message": message})
}
