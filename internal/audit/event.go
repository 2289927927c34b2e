package audit

import "time"

// Action описывает, что сделал администратор.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ImpersonationEvent запись журнала "view as user".
type ImpersonationEvent struct {
	ID           string    `json:"id"`             // UUID события
	TraceID      string    `json:"trace_id"`       // Сквозной ID запроса
	AdminID      string    `json:"admin_id"`       // Кто смотрел
	TargetUserID string    `json:"target_user_id"` // От чьего имени
	Action       Action    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
}
