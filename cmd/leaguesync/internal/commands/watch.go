package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type WatchCmd struct {
	ViewFlags `embed:""`

	Duration time.Duration `help:"Stop after this long. Runs until interrupted when zero." default:"0"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	shutdown, err := globals.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	reg, err := globals.registry()
	if err != nil {
		return err
	}
	view, err := w.newView(reg)
	if err != nil {
		return err
	}
	defer view.Close()

	mgr, closeConn, err := globals.connect(ctx, reg)
	if err != nil {
		return err
	}
	defer closeConn()

	if w.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Duration)
		defer cancel()
	}

	states := view.Subscribe(ctx)

	done := make(chan error, 1)
	go func() { done <- view.Run(ctx, mgr) }()

	out := globals.stdout()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if st.IsLoading {
				continue
			}
			if st.Err != nil {
				log.Warn().Err(st.Err).Str("table", w.Table).Msg("pull failed, showing last rows")
			}
			fmt.Fprintf(out, "-- %s @ %s\n", w.Table, time.Now().Format(time.TimeOnly))
			if err := printState(out, w.Output, w.Columns, st); err != nil {
				return err
			}
		case err := <-done:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}
