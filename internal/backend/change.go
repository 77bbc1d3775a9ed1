package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfeidau/leaguesync/internal/models"
)

// changePayload is the postgres_changes wire shape shared by the realtime
// server and the database change trigger.
type changePayload struct {
	Data struct {
		Schema          string     `json:"schema"`
		Table           string     `json:"table"`
		Type            string     `json:"type"`
		EventType       string     `json:"eventType"`
		CommitTimestamp string     `json:"commit_timestamp"`
		Record          models.Row `json:"record"`
		OldRecord       models.Row `json:"old_record"`
		New             models.Row `json:"new"`
		Old             models.Row `json:"old"`
	} `json:"data"`
}

// DecodeChange converts a postgres_changes payload into a ChangeEvent.
// Empty records decode as nil rows. Numbers decode as json.Number, the same
// as pulled rows.
func DecodeChange(raw []byte) (models.ChangeEvent, error) {
	var p changePayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to decode change payload: %w", err)
	}

	kindStr := p.Data.Type
	if kindStr == "" {
		kindStr = p.Data.EventType
	}
	kind, err := models.ParseChangeKind(kindStr)
	if err != nil {
		return models.ChangeEvent{}, err
	}

	ev := models.ChangeEvent{
		Table: p.Data.Table,
		Kind:  kind,
		New:   firstRow(p.Data.Record, p.Data.New),
		Old:   firstRow(p.Data.OldRecord, p.Data.Old),
	}
	if p.Data.CommitTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.Data.CommitTimestamp); err == nil {
			ev.CommitTimestamp = ts
		}
	}
	return ev, nil
}

func firstRow(rows ...models.Row) models.Row {
	for _, r := range rows {
		if len(r) > 0 {
			return r
		}
	}
	return nil
}
