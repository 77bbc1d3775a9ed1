package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/mutation"
)

type SaveCmd struct {
	Kind string `arg:"" help:"Record kind (draft, template, sport, venue, organization)."`
	Mode string `help:"Create a new record or update an existing one." enum:"create,update" default:"create"`
	Data string `help:"Record as a JSON object." xor:"input"`
	File string `help:"File holding the record as a JSON object." type:"existingfile" xor:"input"`
}

func (s *SaveCmd) Run(ctx context.Context, globals *Globals) error {
	kind, err := mutation.ParseKind(s.Kind)
	if err != nil {
		return err
	}
	mode, err := mutation.ParseMode(s.Mode)
	if err != nil {
		return err
	}
	payload, err := s.payload()
	if err != nil {
		return err
	}
	if err := mutation.Validate(kind, payload, mode); err != nil {
		return err
	}

	return withGateway(ctx, globals, func(gw *mutation.Gateway) error {
		saved, err := gw.Save(ctx, kind, payload, mode)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(globals.stdout())
		enc.SetIndent("", "  ")
		return enc.Encode(saved)
	})
}

func (s *SaveCmd) payload() (models.Row, error) {
	data := []byte(s.Data)
	if s.File != "" {
		var err error
		if data, err = os.ReadFile(s.File); err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, errors.New("one of --data or --file is required")
	}
	var row models.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	return row, nil
}

type RemoveCmd struct {
	Kind string `arg:"" help:"Record kind (draft, template, sport, venue, organization)."`
	ID   string `arg:"" help:"Record id."`
}

func (r *RemoveCmd) Run(ctx context.Context, globals *Globals) error {
	kind, err := mutation.ParseKind(r.Kind)
	if err != nil {
		return err
	}

	return withGateway(ctx, globals, func(gw *mutation.Gateway) error {
		if err := gw.Remove(ctx, kind, r.ID); err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "removed %s %s\n", kind, r.ID)
		return nil
	})
}

func withGateway(ctx context.Context, globals *Globals, fn func(*mutation.Gateway) error) error {
	shutdown, err := globals.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	if globals.SiteURL == "" {
		return errors.New("--site-url is required for writes")
	}

	reg, err := globals.registry()
	if err != nil {
		return err
	}
	mgr, closeConn, err := globals.connect(ctx, reg)
	if err != nil {
		return err
	}
	defer closeConn()

	gw, err := mutation.NewGateway(mutation.Config{
		BaseURL:    globals.SiteURL,
		HTTPClient: globals.httpClient(),
		OnSuccess: func(ctx context.Context, op mutation.Op, kind mutation.Kind) {
			log.Info().Str("op", string(op)).Str("kind", string(kind)).Msg("write accepted")
		},
	}, mgr)
	if err != nil {
		return err
	}

	return fn(gw)
}
