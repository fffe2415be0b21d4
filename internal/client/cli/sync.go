package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
)

func (a *App) Stats(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		st, err := a.garage.GetTotalServiceStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d service records, total cost %.2f\n", st.TotalServices, st.TotalCost)
	case 1:
		st, err := a.garage.GetVehicleStats(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d service records, total cost %.2f\n", st.ServiceCount, st.TotalCost)
	default:
		return errUsage
	}
	return nil
}

func (a *App) Status(ctx context.Context, args []string) error {
	st, err := a.garage.GetSyncStatus(ctx)
	if err != nil {
		return err
	}

	conn := "offline"
	if st.IsOnline {
		conn = "online"
	}
	if st.IsSyncing {
		conn += ", syncing"
	}
	fmt.Fprintf(a.out, "Connection:  %s\n", conn)
	fmt.Fprintf(a.out, "Queued:      %d (failed %d, gave up %d)\n", st.PendingCount, st.FailedCount, st.ExhaustedCount)

	last := "never"
	if !st.LastSyncAttempt.IsZero() {
		last = st.LastSyncAttempt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(a.out, "Last sync:   %s\n", last)
	if st.LastError != "" {
		fmt.Fprintf(a.out, "Last error:  %s\n", st.LastError)
	}
	if st.ExhaustedCount > 0 {
		fmt.Fprintln(a.out, "Some changes stopped retrying; run 'sync' to try again.")
	}
	return nil
}

func (a *App) Sync(ctx context.Context, args []string) error {
	res, err := a.garage.ForceSyncWithServer(ctx)
	switch {
	case errors.Is(err, common.ErrOffline):
		fmt.Fprintln(a.out, "Offline: changes stay queued until the server is reachable.")
		return nil
	case errors.Is(err, common.ErrAuth):
		return fmt.Errorf("the server rejected the access token, set a new one with 'token'")
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "Pushed %d change(s), %d merged, %d failed; pulled %d, removed %d.\n",
		res.Synced, res.Merged, res.Failed, res.Pulled, res.Removed)
	return nil
}

func (a *App) Backup(ctx context.Context, args []string) error {
	if a.exporter == nil {
		return errors.New("backup is not configured (set s3_bucket)")
	}
	key, err := a.exporter.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Backup written to", key)
	return nil
}

// Token replaces the access token and triggers a sync, since queued changes
// may have been waiting for a valid session.
func (a *App) Token(ctx context.Context, args []string) error {
	tok, err := GetSecret(a.reader, "Access token", a.out)
	if err != nil {
		return err
	}
	if err := a.session.SetToken(tok); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Token accepted for user", a.session.UserID())
	a.monitor.RequestSync()
	return nil
}
