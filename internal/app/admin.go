package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"riskgate/internal/runtimecfg"
	"riskgate/internal/storage"
)

// DenylistList prints the denylisted mints, one per line.
func (a *App) DenylistList(out io.Writer) error {
	items, err := a.newDenylist().List()
	if err != nil {
		return err
	}
	for _, id := range items {
		fmt.Fprintln(out, id)
	}
	return nil
}

// DenylistAdd adds mints to the denylist file.
func (a *App) DenylistAdd(out io.Writer, ids []string) error {
	deny := a.newDenylist()
	for _, id := range ids {
		added, err := deny.Add(id)
		if err != nil {
			return fmt.Errorf("add %s: %w", id, err)
		}
		fmt.Fprintf(out, "%s\t%s\n", id, changedLabel(added, "added", "already present"))
	}
	return nil
}

// DenylistRemove removes mints from the denylist file.
func (a *App) DenylistRemove(out io.Writer, ids []string) error {
	deny := a.newDenylist()
	for _, id := range ids {
		removed, err := deny.Remove(id)
		if err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		fmt.Fprintf(out, "%s\t%s\n", id, changedLabel(removed, "removed", "not present"))
	}
	return nil
}

func changedLabel(changed bool, yes, no string) string {
	if changed {
		return yes
	}
	return no
}

// ConfigShow prints the effective runtime config in its persisted form.
func (a *App) ConfigShow(out io.Writer) error {
	return writeDocument(out, a.newRuntimeStore().Get())
}

// ConfigSet applies a JSON patch keyed by the legacy names and prints the saved config.
func (a *App) ConfigSet(out io.Writer, patchJSON []byte) error {
	patch, err := runtimecfg.ParsePatch(patchJSON)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return errors.New("patch contains no recognised keys")
	}
	saved, err := a.newRuntimeStore().Save(patch)
	if err != nil {
		return err
	}
	return writeDocument(out, saved)
}

func writeDocument(out io.Writer, cfg runtimecfg.RuntimeConfig) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.Document())
}

// Migrate runs a goose command against the configured database.
func (a *App) Migrate(ctx context.Context, command string, args ...string) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	a.Logger.Info().Str("command", command).Msg("running migrations")
	return storage.Migrate(ctx, a.Config.Database.DSN, command, args...)
}

// ReadPatch loads patch JSON from a file path, or stdin when path is "-".
func ReadPatch(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
