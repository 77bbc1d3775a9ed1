package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/wolfeidau/leaguesync/internal/backend"
)

// Phoenix channel events used by the realtime server.
const (
	eventJoin        = "phx_join"
	eventLeave       = "phx_leave"
	eventReply       = "phx_reply"
	eventError       = "phx_error"
	eventClose       = "phx_close"
	eventHeartbeat   = "heartbeat"
	eventAccessToken = "access_token"
	eventChanges     = "postgres_changes"
	eventSystem      = "system"

	heartbeatTopic = "phoenix"
)

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeConfig `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (r replyPayload) reason() string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(r.Response, &body); err == nil && body.Reason != "" {
		return body.Reason
	}
	return string(r.Response)
}

type systemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// filterExpr renders an equality filter in the server's "column=eq.value" form.
func filterExpr(f *backend.Filter) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s=eq.%v", f.Column, f.Value)
}

func newJoin(schema string, sub backend.Subscription, token string) joinPayload {
	var p joinPayload
	p.Config.PostgresChanges = []changeConfig{{
		Event:  "*",
		Schema: schema,
		Table:  sub.Table,
		Filter: filterExpr(sub.Filter),
	}}
	p.AccessToken = token
	return p
}
