package commands

import (
	"context"
	"fmt"
)

type TokenCmd struct{}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	shutdown, err := globals.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	minter, err := globals.minter()
	if err != nil {
		return err
	}

	tok, err := minter.Mint(ctx, globals.session())
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Fprintln(globals.stdout(), tok)
	return nil
}
