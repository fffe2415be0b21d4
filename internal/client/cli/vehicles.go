package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

var errUsage = errors.New("wrong arguments, see 'help'")

func (a *App) Vehicles(ctx context.Context, args []string) error {
	list, err := a.garage.GetVehicles(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No vehicles yet.")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tYEAR\tREG")
	for _, v := range list {
		year := ""
		if v.Year != 0 {
			year = fmt.Sprint(v.Year)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.DisplayName(), year, v.RegistrationNumber)
	}
	return tw.Flush()
}

// promptVehicle asks for every editable field, offering v's values as
// defaults.
func (a *App) promptVehicle(v *models.Vehicle) error {
	var err error
	ask := func(prompt string, dst *string) {
		if err == nil {
			*dst, err = GetDefaultText(a.reader, prompt, *dst, a.out)
		}
	}

	ask("Make", &v.Make)
	ask("Model", &v.Model)
	if err != nil {
		return err
	}
	if v.Make == "" && v.Model == "" {
		return errors.New("make or model is required")
	}

	year, yErr := GetInt(a.reader, "Year (optional)", a.out)
	if yErr != nil {
		return yErr
	}
	if year != 0 {
		v.Year = year
	}

	ask("Nickname", &v.Nickname)
	ask("Registration number", &v.RegistrationNumber)
	ask("VIN", &v.VIN)
	ask("Colour", &v.Colour)
	if err != nil {
		return err
	}

	odo, err := GetFloat(a.reader, "Odometer reading (optional)", a.out)
	if err != nil {
		return err
	}
	if odo != nil {
		v.OdometerReading = odo
		unit := string(v.OdometerUnit)
		if unit == "" {
			unit = string(models.Km)
		}
		if unit, err = GetDefaultText(a.reader, "Unit (km/miles)", unit, a.out); err != nil {
			return err
		}
		if !slices.Contains([]models.OdometerUnit{models.Km, models.Miles}, models.OdometerUnit(unit)) {
			return fmt.Errorf("unknown unit %q", unit)
		}
		v.OdometerUnit = models.OdometerUnit(unit)
	}

	notes, err := GetMultiline(a.reader, "Notes", a.out)
	if err != nil {
		return err
	}
	if notes != "" {
		v.Notes = notes
	}
	return nil
}

func (a *App) AddVehicle(ctx context.Context, args []string) error {
	v := &models.Vehicle{}
	if err := a.promptVehicle(v); err != nil {
		return err
	}
	if err := a.garage.SaveVehicle(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s (%s)\n", v.DisplayName(), v.ID)
	return nil
}

func (a *App) EditVehicle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	v, err := a.garage.GetVehicle(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.promptVehicle(v); err != nil {
		return err
	}
	if err := a.garage.SaveVehicle(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s\n", v.DisplayName())
	return nil
}

func (a *App) DeleteVehicle(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errUsage
	}
	cascade := len(args) == 2 && args[1] == "--cascade"
	if len(args) == 2 && !cascade {
		return errUsage
	}

	if !cascade {
		children, err := a.garage.GetVehicleServices(ctx, args[0])
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("vehicle has %d service records, use --cascade", len(children))
		}
	}

	if err := a.garage.DeleteVehicle(ctx, args[0], cascade); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted.")
	return nil
}
