package commands

import (
	"context"
	"fmt"
)

type ListCmd struct {
	ViewFlags `embed:""`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	shutdown, err := globals.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	reg, err := globals.registry()
	if err != nil {
		return err
	}
	view, err := l.newView(reg)
	if err != nil {
		return err
	}
	defer view.Close()

	mgr, closeConn, err := globals.connect(ctx, reg)
	if err != nil {
		return err
	}
	defer closeConn()

	view.SetConnection(mgr.Current())
	if err := view.Refetch(ctx); err != nil {
		return fmt.Errorf("failed to list %s: %w", l.Table, err)
	}

	return printState(globals.stdout(), l.Output, l.Columns, view.Snapshot())
}
