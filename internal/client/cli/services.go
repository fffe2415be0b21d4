package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

const dateLayout = "2006-01-02"

var serviceTypes = []models.ServiceType{models.Maintenance, models.Repair, models.Restoration, models.Modification}

func (a *App) Services(ctx context.Context, args []string) error {
	var (
		list []*models.ServiceRecord
		err  error
	)
	switch len(args) {
	case 0:
		list, err = a.garage.GetServices(ctx)
	case 1:
		list, err = a.garage.GetVehicleServices(ctx, args[0])
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No service records.")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tCOST\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", s.ID, s.Date, s.ServiceType, s.Cost, s.Description)
	}
	return tw.Flush()
}

func (a *App) AddService(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	v, err := a.garage.GetVehicle(ctx, args[0])
	if err != nil {
		return err
	}

	s := &models.ServiceRecord{VehicleID: v.ID}

	s.Date, err = GetDefaultText(a.reader, "Date (YYYY-MM-DD)", time.Now().Format(dateLayout), a.out)
	if err != nil {
		return err
	}
	if _, err := time.Parse(dateLayout, s.Date); err != nil {
		return fmt.Errorf("bad date %q", s.Date)
	}

	kind, err := GetDefaultText(a.reader, "Type (maintenance/repair/restoration/modification)", string(models.Maintenance), a.out)
	if err != nil {
		return err
	}
	s.ServiceType = models.ServiceType(kind)
	if !slices.Contains(serviceTypes, s.ServiceType) {
		return fmt.Errorf("unknown service type %q", kind)
	}

	if s.Description, err = GetSimpleText(a.reader, "Description", a.out); err != nil {
		return err
	}

	cost, err := GetFloat(a.reader, "Cost", a.out)
	if err != nil {
		return err
	}
	if cost == nil {
		return errors.New("cost is required")
	}
	s.Cost = *cost

	if s.OdometerReading, err = GetFloat(a.reader, "Odometer reading (optional)", a.out); err != nil {
		return err
	}

	if err := a.garage.SaveService(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved service record %s for %s\n", s.ID, v.DisplayName())
	return nil
}

func (a *App) DeleteService(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.garage.DeleteService(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted.")
	return nil
}
