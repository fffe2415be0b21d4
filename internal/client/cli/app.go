package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/garagekeeper/internal/client/backup"
	"github.com/dmitrijs2005/garagekeeper/internal/client/config"
	"github.com/dmitrijs2005/garagekeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/garagekeeper/internal/client/realtime"
	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
	"github.com/dmitrijs2005/garagekeeper/internal/client/remote/remotetest"
	"github.com/dmitrijs2005/garagekeeper/internal/client/services"
	"github.com/dmitrijs2005/garagekeeper/internal/client/session"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Garage is the public API surface the commands use.
type Garage interface {
	GetVehicles(ctx context.Context) ([]*models.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	SaveVehicle(ctx context.Context, v *models.Vehicle) error
	DeleteVehicle(ctx context.Context, id string, cascade bool) error
	GetServices(ctx context.Context) ([]*models.ServiceRecord, error)
	GetVehicleServices(ctx context.Context, vehicleID string) ([]*models.ServiceRecord, error)
	SaveService(ctx context.Context, s *models.ServiceRecord) error
	DeleteService(ctx context.Context, id string) error
	GetTotalServiceStats(ctx context.Context) (*services.ServiceStats, error)
	GetVehicleStats(ctx context.Context, vehicleID string) (*services.VehicleStats, error)
	GetSyncStatus(ctx context.Context) (*services.SyncStatus, error)
	ForceSyncWithServer(ctx context.Context) (*syncer.Result, error)
}

// Exporter uploads a backup and returns its key.
type Exporter interface {
	Export(ctx context.Context) (string, error)
}

// gateway is what the app needs from a remote implementation.
type gateway interface {
	remote.Gateway
	connectivity.Pinger
}

type App struct {
	config   *config.Config
	db       *sql.DB
	session  *session.Session
	garage   Garage
	exporter Exporter
	gateway  gateway
	monitor  *connectivity.Monitor
	listener *realtime.Listener
	logger   logging.Logger

	reader  *bufio.Reader
	out     io.Writer
	closers []io.Closer
}

// NewApp opens the local store and builds every client component. Nothing
// touches the network until Run.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := store.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a := &App{
		config:  c,
		db:      db,
		logger:  logger.With("module", "cli"),
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		closers: []io.Closer{db},
	}

	if c.Demo && c.AccessToken == "" {
		a.session = session.NewLocal("demo")
	} else if a.session, err = session.New(c.AccessToken); err != nil {
		a.Close()
		return nil, err
	}
	a.session.OnInvalidate(func(reason error) {
		a.logger.Warn(context.Background(), "session invalidated", "reason", reason)
	})

	if c.Demo {
		a.gateway = remotetest.New()
	} else {
		gw, err := remote.NewGRPCGateway(c.ServerEndpointAddr, a.session, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.gateway = gw
		a.closers = append(a.closers, gw)
	}

	engine := syncer.NewEngine(db, a.gateway, a.session, c.MergePolicy(), c.Sync(), logger)
	a.monitor = connectivity.NewMonitor(engine, c.SyncInterval, logger)
	engine.SetOnlineCheck(a.monitor.IsOnline)

	a.listener = realtime.NewListener(db, a.gateway, a.monitor, a.session, logger)
	a.garage = services.NewGarage(db, a.session, a.monitor, logger)

	if c.BackupEnabled() {
		client, err := backup.NewS3Client(ctx, c.S3())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.exporter = backup.NewExporter(db, client, c.S3Bucket, c.S3Prefix, a.session, logger)
	}

	return a, nil
}

// Close releases the gateway connection and the database.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error(context.Background(), "close failed", "error", err)
		}
	}
	a.closers = nil
}

// Run starts the background workers and the REPL. It returns when the user
// exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		a.Close()
	}()

	for _, worker := range []func(context.Context){
		a.monitor.Run,
		a.listener.Run,
		func(ctx context.Context) { a.monitor.Probe(ctx, a.gateway, a.config.OnlineCheckInterval) },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx)
		}()
	}

	fmt.Fprintln(a.out, "Welcome to GarageKeeper (type 'help' for commands)")
	if !a.session.Valid() {
		fmt.Fprintln(a.out, "No valid access token: working offline. Use 'token' to set one.")
	}
	runREPL(ctx, a, a.status, a.reader, a.out)
}

func (a *App) status() string {
	s := "offline"
	if a.monitor.IsOnline() {
		s = "online"
	}
	if !a.session.Valid() {
		s += ", signed out"
	}
	if st, err := a.garage.GetSyncStatus(context.Background()); err == nil && st.PendingCount > 0 {
		s += fmt.Sprintf(", %d queued", st.PendingCount)
		if st.HasErrors {
			s += " !"
		}
	}
	return "(" + s + ")"
}
